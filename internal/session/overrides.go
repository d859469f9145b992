package session

import (
	"fmt"

	"chainrig/internal/router"

	"go.uber.org/zap"
)

func (s *Session) ping(cmd router.Command) error {
	p := cmd.(router.Ping)
	s.log.Info("pong", zap.Any("args", p.Args))
	return nil
}

func (s *Session) newChain(cmd router.Command) error {
	c := cmd.(router.NewChain)
	slots := 0
	if c.HasSlots {
		slots = c.Slots
	}
	created := s.Create(c.Name, slots)
	s.log.Info("chain created",
		zap.String("name", created.Name()),
		zap.Int("slots", created.Len()))
	return nil
}

func (s *Session) addSlot(cmd router.Command) error {
	a := cmd.(router.AddSlot)
	target, err := s.editTarget()
	if err != nil {
		return err
	}
	if err := target.SetSlot(a.Slot, a.Processor); err != nil {
		return fmt.Errorf("add to %s: %w", target.Name(), err)
	}
	role, _ := target.Role(a.Slot)
	s.log.Debug("slot set",
		zap.String("chain", target.Name()),
		zap.Int("slot", a.Slot),
		zap.String("role", string(role)))
	return nil
}

func (s *Session) removeSlot(cmd router.Command) error {
	r := cmd.(router.RemoveSlot)
	target, err := s.editTarget()
	if err != nil {
		return err
	}
	if err := target.ClearSlot(r.Slot); err != nil {
		return fmt.Errorf("remove from %s: %w", target.Name(), err)
	}
	s.log.Debug("slot cleared", zap.String("chain", target.Name()), zap.Int("slot", r.Slot))
	return nil
}

func (s *Session) setFrom(cmd router.Command) error {
	f := cmd.(router.SetFrom)
	target, err := s.editTarget()
	if err != nil {
		return err
	}
	applied, err := target.SetFrom(f.Start, f.Processors)
	if err != nil {
		return fmt.Errorf("setFrom on %s: %w", target.Name(), err)
	}
	s.log.Debug("slots set",
		zap.String("chain", target.Name()),
		zap.Int("start", f.Start),
		zap.Int("applied", applied))
	return nil
}
