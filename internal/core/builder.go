package core

import (
	"fmt"
	"os"

	"ipcrelay/config"
	"ipcrelay/internal/transport"
	"ipcrelay/util"
)

// Build validates cfg and constructs a Worker bound to the process's
// standard streams.  When cfg names a channel descriptor it is opened
// here, so a bad descriptor fails before the worker starts.
func Build(cfg *config.Config, logger *util.Logger) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	w := &Worker{
		Stdin:        os.Stdin,
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
		Failsafe:     cfg.Failsafe,
		DrainTimeout: cfg.DrainTimeout,
		Logger:       logger,
	}

	if cfg.HasChannel() {
		ch, err := transport.Open(cfg.ChannelFD, transport.Options{
			MaxFrameSize: cfg.MaxFrameSize,
			SendTimeout:  cfg.SendTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("control channel: %w", err)
		}
		w.Channel = ch
	}
	return w, nil
}
