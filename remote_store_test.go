package avroconverter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/riferrei/srclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type registeredSchema struct {
	subject    string
	version    int
	id         int
	definition string
}

// fakeRegistry serves the subset of the confluent schema registry api the store uses
type fakeRegistry struct {
	mu        sync.Mutex
	subjects  map[string][]*registeredSchema
	ids       map[int]*registeredSchema
	lastID    int
	requests  int
	dropFirst int
	reject    map[string]bool
	status    int // answers every request with the status when set
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		subjects: make(map[string][]*registeredSchema),
		ids:      make(map[int]*registeredSchema),
		reject:   make(map[string]bool),
	}
}

func (f *fakeRegistry) add(subject, definition string) *registeredSchema {
	for _, s := range f.subjects[subject] {
		if compact(s.definition) == compact(definition) {
			return s
		}
	}

	f.lastID++
	s := &registeredSchema{subject: subject, version: len(f.subjects[subject]) + 1, id: f.lastID, definition: definition}
	f.subjects[subject] = append(f.subjects[subject], s)
	f.ids[s.id] = s

	return s
}

func (f *fakeRegistry) Add(subject, definition string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.add(subject, definition)
}

func (f *fakeRegistry) Requests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func (f *fakeRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests++
	if f.dropFirst > 0 {
		f.dropFirst--
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			conn.Close()
		}
		return
	}

	if f.status > 0 {
		writeRegistryError(w, f.status, f.status, http.StatusText(f.status))
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, `/`), `/`)
	switch {
	case len(parts) == 3 && parts[0] == `schemas` && parts[1] == `ids`:
		id, _ := strconv.Atoi(parts[2])
		s, ok := f.ids[id]
		if !ok {
			writeRegistryError(w, http.StatusNotFound, 40403, fmt.Sprintf(`Schema %d not found`, id))
			return
		}
		writeRegistryJSON(w, schemaJSON(s))

	case len(parts) == 2 && parts[0] == `subjects` && r.Method == http.MethodPost:
		def := readSchema(r)
		for _, s := range f.subjects[parts[1]] {
			if compact(s.definition) == compact(def) {
				writeRegistryJSON(w, schemaJSON(s))
				return
			}
		}
		if _, ok := f.subjects[parts[1]]; !ok {
			writeRegistryError(w, http.StatusNotFound, 40401, fmt.Sprintf(`Subject '%s' not found.`, parts[1]))
			return
		}
		writeRegistryError(w, http.StatusNotFound, 40403, `Schema not found`)

	case len(parts) == 3 && parts[0] == `subjects` && parts[2] == `versions` && r.Method == http.MethodPost:
		if f.reject[parts[1]] {
			writeRegistryError(w, http.StatusUnprocessableEntity, 42201, `Either the input schema or one its references is invalid`)
			return
		}
		s := f.add(parts[1], readSchema(r))
		writeRegistryJSON(w, map[string]any{`id`: s.id})

	case len(parts) == 3 && parts[0] == `subjects` && parts[2] == `versions`:
		versions := make([]int, 0)
		for _, s := range f.subjects[parts[1]] {
			versions = append(versions, s.version)
		}
		if len(versions) == 0 {
			writeRegistryError(w, http.StatusNotFound, 40401, fmt.Sprintf(`Subject '%s' not found.`, parts[1]))
			return
		}
		writeRegistryJSON(w, versions)

	case len(parts) == 4 && parts[0] == `subjects` && parts[2] == `versions`:
		schemas := f.subjects[parts[1]]
		version := len(schemas)
		if parts[3] != `latest` {
			version, _ = strconv.Atoi(parts[3])
		}
		if len(schemas) == 0 {
			writeRegistryError(w, http.StatusNotFound, 40401, fmt.Sprintf(`Subject '%s' not found.`, parts[1]))
			return
		}
		if version < 1 || version > len(schemas) {
			writeRegistryError(w, http.StatusNotFound, 40402, fmt.Sprintf(`Version %d not found.`, version))
			return
		}
		writeRegistryJSON(w, schemaJSON(schemas[version-1]))

	default:
		writeRegistryError(w, http.StatusNotFound, 404, fmt.Sprintf(`no route for %s %s`, r.Method, r.URL.Path))
	}
}

func schemaJSON(s *registeredSchema) map[string]any {
	return map[string]any{`subject`: s.subject, `version`: s.version, `id`: s.id, `schema`: s.definition}
}

func readSchema(r *http.Request) string {
	body := struct {
		Schema string `json:"schema"`
	}{}
	byt, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(byt, &body)
	return body.Schema
}

func compact(definition string) string {
	buf := new(bytes.Buffer)
	if err := json.Compact(buf, []byte(definition)); err != nil {
		return definition
	}
	return buf.String()
}

func writeRegistryJSON(w http.ResponseWriter, v any) {
	w.Header().Set(`Content-Type`, `application/vnd.schemaregistry.v1+json`)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRegistryError(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set(`Content-Type`, `application/vnd.schemaregistry.v1+json`)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{`error_code`: code, `message`: message})
}

func newTestRemoteStore(t *testing.T, registry http.Handler, opts ...Option) (*RemoteStore, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(registry)
	t.Cleanup(srv.Close)

	opts = append([]Option{WithRetry(3, time.Millisecond, 5*time.Millisecond), WithRequestTimeout(time.Second)}, opts...)

	return NewRemoteStore(srv.URL, opts...), srv
}

func TestRemoteStore_RegisterOrResolve(t *testing.T) {
	registry := newFakeRegistry()
	store, _ := newTestRemoteStore(t, registry)
	ctx := context.Background()

	v1, err := store.RegisterOrResolve(ctx, `user`, user1Schema)
	require.NoError(t, err)
	assert.Equal(t, `user`, v1.Subject)
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, 1, v1.ID)

	again, err := store.RegisterOrResolve(ctx, `user`, user1Schema)
	require.NoError(t, err)
	assert.Equal(t, v1, again)

	v2, err := store.RegisterOrResolve(ctx, `user`, user2Schema)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	def, err := store.Lookup(ctx, v1)
	require.NoError(t, err)
	assert.Equal(t, user1Schema, def)

	rec, err := store.LookupID(ctx, v2.ID)
	require.NoError(t, err)
	assert.Equal(t, compact(user2Schema), compact(rec.Definition))

	assert.Equal(t, []string{`user`}, store.Subjects())
}

func TestRemoteStore_ResolvesExistingSchemas(t *testing.T) {
	registry := newFakeRegistry()
	registry.Add(`user1`, user1Schema)
	store, _ := newTestRemoteStore(t, registry)

	ref, err := store.RegisterOrResolve(context.Background(), `user1`, user1Schema)
	require.NoError(t, err)
	assert.Equal(t, Reference{Subject: `user1`, Version: 1, Format: FormatAvro, ID: 1}, ref)
}

func TestRemoteStore_Errors(t *testing.T) {
	registry := newFakeRegistry()
	registry.reject[`rejected`] = true
	store, _ := newTestRemoteStore(t, registry)
	ctx := context.Background()

	_, err := store.RegisterOrResolve(ctx, `user1`, `{"type": "record"`)
	assert.ErrorIs(t, err, ErrInvalidSchema)
	assert.Zero(t, registry.Requests(), `malformed definitions never reach the registry`)

	_, err = store.RegisterOrResolve(ctx, `rejected`, user1Schema)
	assert.ErrorIs(t, err, ErrInvalidSchema)

	before := registry.Requests()
	_, err = store.Lookup(ctx, Reference{Subject: `user1`, Version: 4})
	assert.ErrorIs(t, err, ErrUnknownSchema)
	assert.Equal(t, before+1, registry.Requests(), `registry answers are not retried`)

	_, err = store.LookupID(ctx, 99)
	assert.ErrorIs(t, err, ErrUnknownSchema)
}

func TestRemoteStore_RetryExhausted(t *testing.T) {
	reg := prometheus.NewRegistry()
	store, srv := newTestRemoteStore(t, newFakeRegistry(), WithMetrics(reg))
	srv.Close()

	_, err := store.Lookup(context.Background(), Reference{Subject: `user1`, Version: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRegistryUnavailable)
	assert.True(t, IsRetryable(err))

	var unavailable *RegistryUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, 3, unavailable.Attempts)
	assert.Equal(t, `lookup version`, unavailable.Operation)
	assert.Equal(t, 3.0, testutil.ToFloat64(store.metrics.retries.WithLabelValues(`lookup version`)))

	_, err = store.RegisterOrResolve(context.Background(), `user1`, user1Schema)
	assert.ErrorIs(t, err, ErrRegistryUnavailable)
}

func TestRemoteStore_RetryRecovers(t *testing.T) {
	registry := newFakeRegistry()
	registry.Add(`user1`, user1Schema)
	registry.dropFirst = 2
	store, _ := newTestRemoteStore(t, registry)

	def, err := store.Lookup(context.Background(), Reference{Subject: `user1`, Version: 1})
	require.NoError(t, err)
	assert.Equal(t, user1Schema, def)
	assert.GreaterOrEqual(t, registry.Requests(), 3)
}

func TestRemoteStore_RequestTimeout(t *testing.T) {
	release := make(chan struct{})
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	store, _ := newTestRemoteStore(t, slow, WithRetry(2, time.Millisecond, time.Millisecond), WithRequestTimeout(20*time.Millisecond))
	defer close(release)

	_, err := store.Lookup(context.Background(), Reference{Subject: `user1`, Version: 1})

	var unavailable *RegistryUnavailableError
	require.True(t, errors.As(err, &unavailable), `need *RegistryUnavailableError, have %v`, err)
	assert.Equal(t, 2, unavailable.Attempts)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRemoteStore_SyncOnce(t *testing.T) {
	registry := newFakeRegistry()
	store, _ := newTestRemoteStore(t, registry)
	ctx := context.Background()

	_, err := store.RegisterOrResolve(ctx, `user`, user1Schema)
	require.NoError(t, err)
	assert.Zero(t, store.SyncOnce(ctx))

	// another producer registers a new version
	registry.Add(`user`, user2Schema)
	assert.Equal(t, 1, store.SyncOnce(ctx))

	before := registry.Requests()
	def, err := store.Lookup(ctx, Reference{Subject: `user`, Version: 2})
	require.NoError(t, err)
	assert.Equal(t, user2Schema, def)
	assert.Equal(t, before, registry.Requests(), `synced versions are served from the cache`)
}

func TestRemoteStore_Sync(t *testing.T) {
	registry := newFakeRegistry()
	store, _ := newTestRemoteStore(t, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := store.RegisterOrResolve(ctx, `user`, user1Schema)
	require.NoError(t, err)
	registry.Add(`user`, user2Schema)

	store.Sync(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool { return store.cached(`user`, 2) }, time.Second, 10*time.Millisecond)
}

func TestRemoteStore_SyncWithoutInterval(t *testing.T) {
	registry := newFakeRegistry()
	store, _ := newTestRemoteStore(t, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.NotPanics(t, func() { store.Sync(ctx, 0) })
	assert.NotPanics(t, func() { store.Sync(ctx, -time.Second) })
	assert.Zero(t, registry.Requests())
}

func TestRemoteStore_MockClient(t *testing.T) {
	url := `http://localhost:8081/`
	mock := srclient.CreateMockSchemaRegistryClient(url)
	store := NewRemoteStore(url, WithRegistryClient(mock))
	ctx := context.Background()

	schema, err := mock.CreateSchema(`user1`, user1Schema, srclient.Avro)
	require.NoError(t, err)
	ref := Reference{Subject: `user1`, Version: schema.Version(), Format: FormatAvro}

	table, err := NewTypeTable(user1Type, user2Type)
	require.NoError(t, err)
	conv := NewConverter(store, table)

	msg, err := conv.Serialize(ctx, NewRecord(`User1`, map[string]any{`name`: `a`, `favoriteColor`: `red`}), FormatContentType(ref))
	require.NoError(t, err)

	rec, err := conv.Deserialize(ctx, msg, `User2`)
	require.NoError(t, err)
	assert.Equal(t, `NYC`, rec.StringValue(`favoritePlace`))
}

func TestRemoteStore_AnswersWithNumbersAreFinal(t *testing.T) {
	registry := newFakeRegistry()
	store, _ := newTestRemoteStore(t, registry)
	ctx := context.Background()

	_, err := store.LookupID(ctx, 512)
	assert.ErrorIs(t, err, ErrUnknownSchema)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, 1, registry.Requests())

	// the subject name holds a 5xx like number
	ref, err := store.RegisterOrResolve(ctx, `orders-500`, user1Schema)
	require.NoError(t, err)
	assert.Equal(t, Reference{Subject: `orders-500`, Version: 1, Format: FormatAvro, ID: 1}, ref)

	_, err = store.Lookup(ctx, Reference{Subject: `orders-500`, Version: 550})
	assert.ErrorIs(t, err, ErrUnknownSchema)
}

func TestRemoteStore_UnauthorizedIsNotARejection(t *testing.T) {
	registry := newFakeRegistry()
	registry.status = http.StatusUnauthorized
	store, _ := newTestRemoteStore(t, registry)

	_, err := store.RegisterOrResolve(context.Background(), `user1`, user1Schema)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidSchema)
	assert.NotErrorIs(t, err, ErrRegistryUnavailable)
	assert.Equal(t, 1, registry.Requests(), `no schema is created after a failed lookup`)

	code, ok := registryCode(err)
	assert.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, code)

	_, err = store.Lookup(context.Background(), Reference{Subject: `user1`, Version: 1})
	assert.NotErrorIs(t, err, ErrUnknownSchema)
}

func TestRemoteStore_ServerErrorsAreRetried(t *testing.T) {
	registry := newFakeRegistry()
	registry.status = http.StatusInternalServerError
	store, _ := newTestRemoteStore(t, registry)

	_, err := store.LookupID(context.Background(), 1)
	assert.ErrorIs(t, err, ErrRegistryUnavailable)
	assert.Equal(t, 3, registry.Requests())
}

func TestRetryable(t *testing.T) {
	tests := map[string]struct {
		err  error
		want bool
	}{
		`nil`:                {nil, false},
		`deadline`:           {context.DeadlineExceeded, true},
		`eof`:                {io.EOF, true},
		`backend error`:      {srclient.Error{Code: 50001, Message: `Error in the backend data store`}, true},
		`internal error`:     {srclient.Error{Code: 500, Message: `Internal Server Error`}, true},
		`forwarding error`:   {&srclient.Error{Code: 50003, Message: `Error while forwarding the request to the primary`}, true},
		`status line`:        {errors.New(`503 Service Unavailable`), true},
		`refused`:            {errors.New(`dial tcp 127.0.0.1:8081: connect: connection refused`), true},
		`schema not found`:   {srclient.Error{Code: 40403, Message: `Schema 512 not found`}, false},
		`subject not found`:  {srclient.Error{Code: 40401, Message: `Subject 'orders-500' not found.`}, false},
		`invalid schema`:     {srclient.Error{Code: 42201, Message: `Either the input schema or one its references is invalid`}, false},
		`unauthorized`:       {srclient.Error{Code: 401, Message: `Unauthorized`}, false},
		`number in the text`: {errors.New(`subject orders-500 is not allowed`), false},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.want, retryable(test.err))
		})
	}
}
