package editor

import (
	"context"
	"fmt"
	"os"
	"time"
)

// WatchFile publishes the content of path every time it changes, polling
// at interval, until ctx is done. The current content is sent first.
func (p *Publisher) WatchFile(ctx context.Context, path string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastMod time.Time
	for {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("editor: stat %s: %w", path, err)
		}

		if !info.ModTime().Equal(lastMod) {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("editor: read %s: %w", path, err)
			}
			sent, err := p.PublishChanged(string(data))
			if err != nil {
				return err
			}
			if sent {
				p.log.Info().Str("path", path).Int("bytes", len(data)).Msg("file changed")
			}
			lastMod = info.ModTime()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
