package main

import (
	"fmt"
	"strings"

	"chainrig/internal/clock"

	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"go.uber.org/zap"
)

// listenMIDI opens the input matching pattern and feeds it into mc.
// The returned func closes the driver.
func listenMIDI(mc *clock.MIDI, pattern string, log *zap.Logger) (func(), error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("midi driver: %w", err)
	}
	closeDriver := func() { drv.Close() }

	ins, err := drv.Ins()
	if err != nil {
		closeDriver()
		return nil, fmt.Errorf("list midi inputs: %w", err)
	}
	names := make([]string, len(ins))
	for i, in := range ins {
		names[i] = in.String()
	}
	log.Debug("midi inputs", zap.Strings("inputs", names))

	idx, ok := clock.MatchPort(names, pattern)
	if !ok {
		closeDriver()
		if len(names) == 0 {
			return nil, fmt.Errorf("no midi inputs available")
		}
		return nil, fmt.Errorf("no midi input matches %q (available: %s)", pattern, strings.Join(names, ", "))
	}

	if err := mc.Listen(ins[idx]); err != nil {
		closeDriver()
		return nil, err
	}
	return closeDriver, nil
}
