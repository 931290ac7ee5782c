/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package avroconverter

import (
	"context"
	goerrors "errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/patrickmn/go-cache"
	"github.com/riferrei/srclient"
	"github.com/tryfix/log"
)

// RegistryClient is the part of the schema registry client the RemoteStore depends on.
// *srclient.SchemaRegistryClient satisfies it.
type RegistryClient interface {
	LookupSchema(subject string, schema string, schemaType srclient.SchemaType, references ...srclient.Reference) (*srclient.Schema, error)
	CreateSchema(subject string, schema string, schemaType srclient.SchemaType, references ...srclient.Reference) (*srclient.Schema, error)
	GetSchemaByVersion(subject string, version int) (*srclient.Schema, error)
	GetSchema(schemaID int) (*srclient.Schema, error)
	GetSchemaVersions(subject string) ([]int, error)
}

// confluent schema registry error codes
const (
	codeSubjectNotFound = 40401
	codeVersionNotFound = 40402
	codeSchemaNotFound  = 40403
)

// transport failures of clients that do not wrap the underlying error, and plain http status lines of non JSON
// answers (proxies, load balancers)
var transientFailure = regexp.MustCompile(`^5\d{2} |connection (refused|reset)|i/o timeout|\bEOF\b`)

// RemoteStore is a Store backed by a confluent compatible schema registry. Every registry call is bounded by the
// request timeout and retried with exponential backoff, resolved references are cached for the store lifetime.
type RemoteStore struct {
	client   RegistryClient
	cache    *cache.Cache
	subjects map[string]struct{}
	mu       *sync.Mutex
	options  *options
	logger   log.Logger
	metrics  *storeMetrics
}

// NewRemoteStore returns a store connected to the registry url
func NewRemoteStore(url string, opts ...Option) *RemoteStore {
	options := newOptions(opts...)

	client := options.client
	if client == nil {
		client = srclient.CreateSchemaRegistryClient(url)
	}

	return &RemoteStore{
		client:   client,
		cache:    cache.New(cache.NoExpiration, 0),
		subjects: make(map[string]struct{}),
		mu:       new(sync.Mutex),
		options:  options,
		logger:   options.logger.NewLog(log.Prefixed(`avroconverter.remote`)),
		metrics:  newStoreMetrics(options.registerer),
	}
}

// RegisterOrResolve looks the definition up under the subject and registers it when the registry does not know it
func (s *RemoteStore) RegisterOrResolve(ctx context.Context, subject, definition string) (Reference, error) {
	normalized, _, err := normalizeDefinition(definition)
	if err != nil {
		return Reference{}, &InvalidSchemaError{Subject: subject, Err: err}
	}

	key := fmt.Sprintf(`def:%s:%s`, subject, normalized)
	if ref, ok := s.cache.Get(key); ok {
		return ref.(Reference), nil
	}

	s.seen(subject)

	schema, err := retry(ctx, s, `lookup`, func() (*srclient.Schema, error) {
		return s.client.LookupSchema(subject, definition, srclient.Avro)
	})
	created := false
	if err != nil {
		code, _ := registryCode(err)
		if code != codeSubjectNotFound && code != codeSchemaNotFound {
			s.logger.Error(fmt.Sprintf(`subject [%s] lookup failed due to %s`, subject, err))
			return Reference{}, err
		}

		// the definition is not registered under the subject yet
		schema, err = retry(ctx, s, `create`, func() (*srclient.Schema, error) {
			return s.client.CreateSchema(subject, definition, srclient.Avro)
		})
		if err != nil {
			s.logger.Error(fmt.Sprintf(`subject [%s] rejected by the registry due to %s`, subject, err))
			if code, ok := registryCode(err); ok && rejected(code) {
				return Reference{}, &InvalidSchemaError{Subject: subject, Err: err}
			}
			return Reference{}, err
		}
		created = true

		if schema.Version() < 1 {
			id := schema.ID()
			schema, err = retry(ctx, s, `lookup`, func() (*srclient.Schema, error) {
				return s.client.LookupSchema(subject, definition, srclient.Avro)
			})
			if err != nil {
				if code, _ := registryCode(err); notFound(code) {
					return Reference{}, &UnknownSchemaError{Reference: Reference{Subject: subject, ID: id}}
				}
				return Reference{}, err
			}
		}
	}

	ref := Reference{Subject: subject, Version: schema.Version(), Format: FormatAvro, ID: schema.ID()}
	s.cache.Set(key, ref, cache.NoExpiration)
	s.cacheRecord(SchemaRecord{Reference: ref, Definition: definition})
	s.metrics.registered(subject, created)

	if created {
		s.logger.Info(fmt.Sprintf(`subject [%s][%s] registered with id [%d]`, subject, Version(ref.Version), ref.ID))
	}

	return ref, nil
}

// Lookup fetches the definition of the subject version
func (s *RemoteStore) Lookup(ctx context.Context, ref Reference) (string, error) {
	rec, err := s.LookupRecord(ctx, ref)
	if err != nil {
		return ``, err
	}

	return rec.Definition, nil
}

// LookupRecord fetches the schema record of the subject version
func (s *RemoteStore) LookupRecord(ctx context.Context, ref Reference) (SchemaRecord, error) {
	if rec, ok := s.cache.Get(versionKey(ref.Subject, ref.Version)); ok {
		return rec.(SchemaRecord), nil
	}

	s.seen(ref.Subject)

	return s.fetchVersion(ctx, ref.Subject, ref.Version)
}

// LookupID fetches the schema registered under the id. The registry does not return the subject of an id so the
// reference only carries the id.
func (s *RemoteStore) LookupID(ctx context.Context, id int) (SchemaRecord, error) {
	if rec, ok := s.cache.Get(idKey(id)); ok {
		return rec.(SchemaRecord), nil
	}

	schema, err := retry(ctx, s, `lookup id`, func() (*srclient.Schema, error) {
		return s.client.GetSchema(id)
	})
	if err != nil {
		if code, _ := registryCode(err); notFound(code) {
			return SchemaRecord{}, &UnknownSchemaError{Reference: Reference{ID: id}}
		}
		return SchemaRecord{}, err
	}

	rec := SchemaRecord{
		Reference:  Reference{Version: schema.Version(), Format: FormatAvro, ID: id},
		Definition: schema.Schema(),
	}
	s.cache.Set(idKey(id), rec, cache.NoExpiration)

	return rec, nil
}

// Subjects returns the subjects the store has resolved or registered
func (s *RemoteStore) Subjects() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	subjects := make([]string, 0, len(s.subjects))
	for subject := range s.subjects {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)

	return subjects
}

func (s *RemoteStore) fetchVersion(ctx context.Context, subject string, version int) (SchemaRecord, error) {
	ref := Reference{Subject: subject, Version: version, Format: FormatAvro}

	schema, err := retry(ctx, s, `lookup version`, func() (*srclient.Schema, error) {
		return s.client.GetSchemaByVersion(subject, version)
	})
	if err != nil {
		if code, _ := registryCode(err); notFound(code) {
			return SchemaRecord{}, &UnknownSchemaError{Reference: ref}
		}
		return SchemaRecord{}, err
	}

	ref.ID = schema.ID()
	rec := SchemaRecord{Reference: ref, Definition: schema.Schema()}
	s.cacheRecord(rec)

	return rec, nil
}

func (s *RemoteStore) cacheRecord(rec SchemaRecord) {
	s.cache.Set(versionKey(rec.Reference.Subject, rec.Reference.Version), rec, cache.NoExpiration)
	if rec.Reference.ID > 0 {
		s.cache.Set(idKey(rec.Reference.ID), rec, cache.NoExpiration)
	}
}

func (s *RemoteStore) cached(subject string, version int) bool {
	_, ok := s.cache.Get(versionKey(subject, version))
	return ok
}

func (s *RemoteStore) seen(subject string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subjects[subject] = struct{}{}
}

func versionKey(subject string, version int) string {
	return fmt.Sprintf(`ver:%s:%d`, subject, version)
}

func idKey(id int) string {
	return fmt.Sprintf(`id:%d`, id)
}

type attemptResult[T any] struct {
	value T
	err   error
}

// retry runs call until it succeeds, fails with a registry answer or the attempts are exhausted. Transport and
// server side failures are retried, exhaustion surfaces as a RegistryUnavailableError.
func retry[T any](ctx context.Context, s *RemoteStore, operation string, call func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.options.initialBackoff
	b.MaxInterval = s.options.maxBackoff
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.options.attempts-1)), ctx)

	var value T
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		v, err := attempt(ctx, s.options.requestTimeout, call)
		if err == nil {
			value = v
			return nil
		}

		if !retryable(err) {
			return backoff.Permanent(err)
		}

		s.metrics.retried(operation)
		s.logger.Warn(fmt.Sprintf(`registry %s attempt %d/%d failed due to %s`, operation, attempts, s.options.attempts, err))

		return err
	}, policy)

	if err == nil {
		return value, nil
	}

	if retryable(err) {
		s.logger.Error(fmt.Sprintf(`registry %s failed after %d attempt/s`, operation, attempts))
		return value, &RegistryUnavailableError{Operation: operation, Attempts: attempts, Err: err}
	}

	return value, err
}

// attempt runs a single blocking registry call bounded by the timeout
func attempt[T any](ctx context.Context, timeout time.Duration, call func() (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptResult[T], 1)
	go func() {
		v, err := call()
		done <- attemptResult[T]{value: v, err: err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// registryCode returns the error code of an answer of the registry
func registryCode(err error) (int, bool) {
	var answer srclient.Error
	if goerrors.As(err, &answer) {
		return answer.Code, true
	}

	var answerRef *srclient.Error
	if goerrors.As(err, &answerRef) && answerRef != nil {
		return answerRef.Code, true
	}

	return 0, false
}

// notFound reports whether the registry does not know the subject, version or schema
func notFound(code int) bool {
	return code == codeSubjectNotFound || code == codeVersionNotFound || code == codeSchemaNotFound || code == 404
}

// rejected reports whether the registry refused a definition, as invalid (422xx) or incompatible (409xx)
func rejected(code int) bool {
	return code/100 == 422 || code/100 == 409 || code == 422 || code == 409
}

// retryable reports whether a failed call may succeed when repeated: transport failures and server side errors
// (5xx statuses, 5xxxx registry codes). Any other registry answer is final.
func retryable(err error) bool {
	if err == nil {
		return false
	}

	if code, ok := registryCode(err); ok {
		return code/100 == 5 || code/10000 == 5
	}

	if goerrors.Is(err, context.DeadlineExceeded) || goerrors.Is(err, context.Canceled) ||
		goerrors.Is(err, io.EOF) || goerrors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var urlErr *url.Error
	if goerrors.As(err, &urlErr) {
		return true
	}

	var netErr net.Error
	if goerrors.As(err, &netErr) {
		return true
	}

	return transientFailure.MatchString(err.Error())
}
