package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"chainrig/internal/chain"
	"chainrig/internal/controller"
	"chainrig/internal/preset"
	"chainrig/internal/status"

	"github.com/spf13/cobra"
)

var presetsDir string

// presetsCmd checks the preset directory
var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List the chains defined in the preset directory",
	Long: `Loads every preset file the way serve does and prints the resulting
chains with their canonical roles, so mistakes show up before the gig.`,
	Args: cobra.NoArgs,
	RunE: runPresets,
}

func init() {
	presetsCmd.Flags().StringVar(&presetsDir, "dir", "", "Preset directory (default: presets.dir from config)")
}

func runPresets(cmd *cobra.Command, args []string) error {
	dir := presetsDir
	if dir == "" {
		dir = cfg.Presets.Dir
	}

	presets, err := preset.LoadDir(dir)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(presets) == 0 {
		fmt.Fprintf(out, "No presets in %s\n", dir)
		return nil
	}

	reg := chain.NewRegistry(nil, nil)
	res := preset.Apply(reg, presets, nil)
	if err := res.Err(); err != nil {
		return err
	}

	styles := status.PlainStyles()
	files := map[string]string{}
	for _, p := range presets {
		files[p.Name] = filepath.Base(p.Source)
	}
	for _, s := range reg.Status() {
		line := status.RenderChain(styles, s, controller.Snapshot{})
		if f := files[s.Name]; f != "" {
			line += "  (" + f + ")"
		}
		fmt.Fprintln(out, strings.TrimLeft(line, " "))
	}
	fmt.Fprintf(out, "%d chains from %s\n", reg.Len(), dir)
	return nil
}
