package health

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// MQTT reports ready while connected() is true.
func MQTT(connected func() bool) Checker {
	return Checker{
		Name: "mqtt",
		Check: func(context.Context) error {
			if !connected() {
				return errors.New("not connected to broker")
			}
			return nil
		},
	}
}

// Store reports ready while dir exists and a file can be created in it.
func Store(dir string) Checker {
	return Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fi, err := os.Stat(dir)
			if err != nil {
				return err
			}
			if !fi.IsDir() {
				return fmt.Errorf("%s is not a directory", dir)
			}
			f, err := os.CreateTemp(dir, ".probe.*")
			if err != nil {
				return fmt.Errorf("not writable: %w", err)
			}
			name := f.Name()
			f.Close()
			return os.Remove(name)
		},
	}
}
