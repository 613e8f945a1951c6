package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// streamPayloadField is the single entry field carrying the JSON document.
const streamPayloadField = "payload"

// MessageTransport moves JSON documents between the block producer and the
// proving workers. The redis backend lets the prover run as a separate
// process; the in-memory backend serves single-process deployments and tests.
type MessageTransport interface {
	PublishJSON(ctx context.Context, stream string, v any) (string, error)
	ReadJSON(ctx context.Context, stream string, lastID string, v any) (string, error)
	Close() error
}

// CheckpointManager persists the last consumed stream id so a consumer can
// resume where it left off after a restart. Transports that cannot persist
// checkpoints simply do not implement it.
type CheckpointManager interface {
	LoadStreamCheckpoint(ctx context.Context, key string) (string, error)
	PersistStreamCheckpoint(ctx context.Context, key string, id string) error
}

// Stream is the redis-streams MessageTransport.
type Stream struct {
	client *redis.Client
}

var (
	_ MessageTransport  = (*Stream)(nil)
	_ CheckpointManager = (*Stream)(nil)
)

func NewStream(url string) (*Stream, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Stream{client: client}, nil
}

func (s *Stream) Close() error {
	return s.client.Close()
}

func (s *Stream) Client() *redis.Client {
	return s.client
}

func (s *Stream) PublishJSON(ctx context.Context, stream string, v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal stream payload: %w", err)
	}
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{streamPayloadField: payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// ReadJSON blocks until an entry after lastID arrives, decodes its payload
// into v, and returns the entry id to use as the next cursor.
func (s *Stream) ReadJSON(ctx context.Context, stream string, lastID string, v any) (string, error) {
	if strings.TrimSpace(lastID) == "" {
		lastID = "0"
	}
	for {
		res, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Count:   1,
			Block:   5 * time.Second,
		}).Result()
		if err == redis.Nil {
			// Block timeout with no entries; poll again unless cancelled.
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			default:
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("xread %s: %w", stream, err)
		}
		for _, sr := range res {
			for _, msg := range sr.Messages {
				raw, ok := msg.Values[streamPayloadField]
				if !ok {
					return "", fmt.Errorf("stream %s entry %s missing %s field", stream, msg.ID, streamPayloadField)
				}
				payload, err := streamPayload(raw)
				if err != nil {
					return "", err
				}
				if err := json.Unmarshal(payload, v); err != nil {
					return "", fmt.Errorf("unmarshal stream payload: %w", err)
				}
				return msg.ID, nil
			}
		}
	}
}

func (s *Stream) LoadStreamCheckpoint(ctx context.Context, key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", nil
	}
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load stream checkpoint %s: %w", key, err)
	}
	return val, nil
}

func (s *Stream) PersistStreamCheckpoint(ctx context.Context, key string, id string) error {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	if err := validateStreamOffset(id); err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, id, 0).Err(); err != nil {
		return fmt.Errorf("persist stream checkpoint %s: %w", key, err)
	}
	return nil
}

// streamPayload normalizes the value shapes the redis client hands back.
func streamPayload(raw any) ([]byte, error) {
	switch p := raw.(type) {
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case fmt.Stringer:
		return []byte(p.String()), nil
	}
	return nil, fmt.Errorf("stream payload type %T not supported", raw)
}

type inMemoryEntry struct {
	id      string
	offset  int64
	payload []byte
}

// InMemoryStream is a process-local MessageTransport with the same ordering
// and cursor semantics as the redis backend.
type InMemoryStream struct {
	mu          sync.Mutex
	streams     map[string][]inMemoryEntry
	checkpoints map[string]string
	nextOffset  int64
	wake        chan struct{}
}

var (
	_ MessageTransport  = (*InMemoryStream)(nil)
	_ CheckpointManager = (*InMemoryStream)(nil)
)

func NewInMemoryStream() *InMemoryStream {
	return &InMemoryStream{
		streams:     make(map[string][]inMemoryEntry),
		checkpoints: make(map[string]string),
		wake:        make(chan struct{}),
	}
}

func (s *InMemoryStream) PublishJSON(ctx context.Context, stream string, v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal stream payload: %w", err)
	}

	s.mu.Lock()
	s.nextOffset++
	id := fmt.Sprintf("%d-0", s.nextOffset)
	s.streams[stream] = append(s.streams[stream], inMemoryEntry{id: id, offset: s.nextOffset, payload: payload})
	// Wake every blocked reader; each re-checks its own cursor.
	close(s.wake)
	s.wake = make(chan struct{})
	s.mu.Unlock()

	return id, nil
}

func (s *InMemoryStream) ReadJSON(ctx context.Context, stream string, lastID string, v any) (string, error) {
	after, err := parseStreamOffset(lastID)
	if err != nil {
		return "", err
	}

	for {
		s.mu.Lock()
		for _, e := range s.streams[stream] {
			if e.offset > after {
				payload, id := e.payload, e.id
				s.mu.Unlock()
				if err := json.Unmarshal(payload, v); err != nil {
					return "", fmt.Errorf("unmarshal stream payload: %w", err)
				}
				return id, nil
			}
		}
		wake := s.wake
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-wake:
		}
	}
}

func (s *InMemoryStream) LoadStreamCheckpoint(_ context.Context, key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoints[key], nil
}

func (s *InMemoryStream) PersistStreamCheckpoint(_ context.Context, key string, id string) error {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	if err := validateStreamOffset(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[key] = id
	return nil
}

func (s *InMemoryStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = make(map[string][]inMemoryEntry)
	s.checkpoints = make(map[string]string)
	return nil
}

// parseStreamOffset extracts the sequence component of a stream id.
// Empty input means "from the start"; negative values clamp to zero.
func parseStreamOffset(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "0" {
		return 0, nil
	}
	head := trimmed
	if idx := strings.IndexByte(trimmed, '-'); idx > 0 {
		head = trimmed[:idx]
	}
	n, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid stream offset %q", raw)
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

// validateStreamOffset rejects ids that could not have come from a stream.
func validateStreamOffset(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "0" {
		return nil
	}

	parts := strings.SplitN(trimmed, "-", 2)
	if len(parts) == 2 {
		if strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return fmt.Errorf("invalid stream offset %q: missing components", raw)
		}
		msg, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil || msg < 0 {
			return fmt.Errorf("invalid stream offset %q", raw)
		}
		seq, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil || seq < 0 {
			return fmt.Errorf("invalid stream offset %q", raw)
		}
		return nil
	}

	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || n < 0 {
		return fmt.Errorf("invalid stream offset %q", raw)
	}
	return nil
}
