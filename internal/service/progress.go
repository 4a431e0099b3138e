package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/rs/zerolog"
)

// followPull reads an image pull progress stream to the end, logging each
// layer status change. An error message embedded in the stream is returned.
func followPull(r io.Reader, image string, log zerolog.Logger) error {
	dec := json.NewDecoder(r)
	last := map[string]string{}
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read pull progress: %w", err)
		}
		if msg.Error != nil {
			return errors.New(msg.Error.Message)
		}
		if msg.ErrorMessage != "" {
			return errors.New(msg.ErrorMessage)
		}
		if msg.Status == "" || last[msg.ID] == msg.Status {
			continue
		}
		last[msg.ID] = msg.Status
		ev := log.Debug().Str("image", image)
		if msg.ID != "" {
			ev = ev.Str("layer", msg.ID)
		}
		ev.Msg(msg.Status)
	}
}
