package gpio

import (
	"github.com/warthog618/go-gpiocdev"
)

const consumerLabel = "lorahub"

// chipHandle is the surface of the gpiochip the Controller drives. Tests
// substitute a fake; production code goes through the character device.
type chipHandle interface {
	lines() int
	lineDirection(line int) (Direction, error)
	request(line int, dir Direction, intr IntrType, eh func(rising bool)) (lineReq, error)
	close() error
}

// lineReq is one held line request.
type lineReq interface {
	Value() (int, error)
	SetValue(value int) error
	Close() error
}

type openFunc func(name string) (chipHandle, error)

type cdevChip struct {
	chip *gpiocdev.Chip
}

func openCdevChip(name string) (chipHandle, error) {
	chip, err := gpiocdev.NewChip(name, gpiocdev.WithConsumer(consumerLabel))
	if err != nil {
		return nil, err
	}
	return &cdevChip{chip: chip}, nil
}

func (c *cdevChip) lines() int { return c.chip.Lines() }

func (c *cdevChip) lineDirection(line int) (Direction, error) {
	info, err := c.chip.LineInfo(line)
	if err != nil {
		return DirInput, err
	}
	if info.Config.Direction == gpiocdev.LineDirectionOutput {
		return DirOutput, nil
	}
	return DirInput, nil
}

func (c *cdevChip) request(line int, dir Direction, intr IntrType, eh func(rising bool)) (lineReq, error) {
	opts := []gpiocdev.LineReqOption{}
	if dir == DirOutput {
		opts = append(opts, gpiocdev.AsOutput(0))
	} else {
		opts = append(opts, gpiocdev.AsInput)
	}
	switch intr {
	case IntrRisingEdge:
		opts = append(opts, gpiocdev.WithRisingEdge)
	case IntrFallingEdge:
		opts = append(opts, gpiocdev.WithFallingEdge)
	case IntrAnyEdge:
		opts = append(opts, gpiocdev.WithBothEdges)
	}
	if eh != nil {
		opts = append(opts, gpiocdev.WithEventHandler(func(ev gpiocdev.LineEvent) {
			eh(ev.Type == gpiocdev.LineEventRisingEdge)
		}))
	}
	l, err := c.chip.RequestLine(line, opts...)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (c *cdevChip) close() error { return c.chip.Close() }
