// Package workerpool adapts the teacher's tomb-supervised WorkerPool into
// a dedicated-goroutine launcher: the matching engine, the match
// persistor and the subscription drain each run on their own worker
// thread, supervised so that one
// component dying tears down the whole replica rather than limping on
// silently.
package workerpool

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

// Run launches fn as a dedicated goroutine under t, logging and
// re-surfacing its error (tomb.Tomb already kills every sibling goroutine
// once one returns a non-nil error).
func Run(t *tomb.Tomb, name string, fn func(*tomb.Tomb) error) {
	t.Go(func() error {
		log.Info().Str("worker", name).Msg("worker starting")
		err := fn(t)
		if err != nil {
			log.Error().Str("worker", name).Err(err).Msg("worker exited with error")
		} else {
			log.Info().Str("worker", name).Msg("worker stopped")
		}
		return err
	})
}
