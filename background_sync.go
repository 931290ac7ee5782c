/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package avroconverter

import (
	"context"
	"fmt"
	"time"

	"github.com/tryfix/log"
)

type backgroundSync struct {
	syncInterval time.Duration
	store        *RemoteStore
	logger       log.Logger
}

// Sync starts a background routine fetching versions registered for known subjects after they were first seen,
// so consumers can decode messages of new versions without a registry round trip. The routine stops with ctx.
// A non positive interval disables the routine.
func (s *RemoteStore) Sync(ctx context.Context, syncInterval time.Duration) {
	if syncInterval <= 0 {
		s.logger.Warn(fmt.Sprintf(`background sync disabled, invalid interval %s`, syncInterval))
		return
	}

	sync := &backgroundSync{
		store:        s,
		syncInterval: syncInterval,
		logger:       s.logger.NewLog(log.Prefixed(`BGSync`)),
	}

	ticker := time.NewTicker(sync.syncInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				sync.logger.Debug(`New Schema check background routine stopped`)
				return
			case <-ticker.C:
				sync.checkRegistryAndAdd(ctx)
			}
		}
	}()

	sync.logger.Debug(`New Schema check background routine started`)
}

// SyncOnce fetches the missing versions of all known subjects and returns the number of versions added
func (s *RemoteStore) SyncOnce(ctx context.Context) int {
	sync := &backgroundSync{
		store:  s,
		logger: s.logger.NewLog(log.Prefixed(`BGSync`)),
	}

	return sync.checkRegistryAndAdd(ctx)
}

func (s *backgroundSync) checkRegistryAndAdd(ctx context.Context) (added int) {
	s.logger.Debug(`Looking for new Schemas...`)
	defer func() {
		s.logger.Debug(fmt.Sprintf(`Looking for new Schemas completed, %d schema/s added`, added))
	}()

	for _, subject := range s.store.Subjects() {
		versions, err := retry(ctx, s.store, `list versions`, func() ([]int, error) {
			return s.store.client.GetSchemaVersions(subject)
		})
		if err != nil {
			s.logger.Error(fmt.Sprintf(`Error getting schema versions of [%s] due to %s`, subject, err))
			continue
		}

		for _, version := range versions {
			if s.store.cached(subject, version) {
				continue
			}

			rec, err := s.store.fetchVersion(ctx, subject, version)
			if err != nil {
				s.logger.Error(fmt.Sprintf(`Error getting schema [%s:%d] due to %s`, subject, version, err))
				continue
			}

			s.logger.Info(fmt.Sprintf(`New Schema registered. %s:%d (id %d)`, subject, version, rec.Reference.ID))
			added++
		}
	}

	return added
}
