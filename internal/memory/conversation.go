package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/taskmesh/orchestrator/internal/circuitbreaker"
	"github.com/taskmesh/orchestrator/internal/metrics"
)

const defaultWindow = 20

// ConversationStore is the short-term memory: a Redis-backed, bounded
// FIFO of conversational turns per task/session id, mirrored in a local
// LRU cache for fast repeated access within one process.
type ConversationStore struct {
	client      *circuitbreaker.RedisWrapper
	logger      *zap.Logger
	window      int
	ttl         time.Duration
	mu          sync.RWMutex
	localCache  map[string]*Conversation
	cacheAccess map[string]time.Time
	maxCached   int
}

// NewConversationStore creates a conversation store backed by Redis at redisAddr.
func NewConversationStore(redisAddr string, window int, logger *zap.Logger) (*ConversationStore, error) {
	if window <= 0 {
		window = defaultWindow
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:         redisAddr,
		Password:     os.Getenv("REDIS_PASSWORD"),
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	client := circuitbreaker.NewRedisWrapper(redisClient, "short-term-memory", logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &ConversationStore{
		client:      client,
		logger:      logger,
		window:      window,
		ttl:         24 * time.Hour,
		localCache:  make(map[string]*Conversation),
		cacheAccess: make(map[string]time.Time),
		maxCached:   10000,
	}, nil
}

// Append adds a turn to the conversation, trimming to the configured window.
func (s *ConversationStore) Append(ctx context.Context, id string, turn Turn) error {
	conv, err := s.get(ctx, id)
	if err != nil && err != ErrConversationNotFound {
		return err
	}
	if conv == nil {
		conv = &Conversation{ID: id, Turns: make([]Turn, 0, s.window)}
	}

	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	conv.Turns = append(conv.Turns, turn)
	if len(conv.Turns) > s.window {
		conv.Turns = conv.Turns[len(conv.Turns)-s.window:]
	}
	conv.UpdatedAt = time.Now()

	return s.save(ctx, conv)
}

// AsMessages returns the conversation's turns in chronological order.
func (s *ConversationStore) AsMessages(ctx context.Context, id string) ([]Turn, error) {
	conv, err := s.get(ctx, id)
	if err != nil {
		if err == ErrConversationNotFound {
			return nil, nil
		}
		return nil, err
	}
	return conv.Turns, nil
}

// Clear discards all turns for a conversation id.
func (s *ConversationStore) Clear(ctx context.Context, id string) error {
	key := s.key(id)
	if err := s.client.Del(ctx, key); err != nil {
		return fmt.Errorf("failed to clear conversation: %w", err)
	}

	s.mu.Lock()
	delete(s.localCache, id)
	delete(s.cacheAccess, id)
	metrics.ConversationCacheSize.Set(float64(len(s.localCache)))
	s.mu.Unlock()

	return nil
}

func (s *ConversationStore) get(ctx context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	if conv, ok := s.localCache[id]; ok {
		s.mu.RUnlock()
		metrics.ConversationCacheHits.Inc()
		s.mu.Lock()
		s.cacheAccess[id] = time.Now()
		s.mu.Unlock()
		return conv, nil
	}
	s.mu.RUnlock()
	metrics.ConversationCacheMisses.Inc()

	data, err := s.client.Get(ctx, s.key(id))
	if err == redis.Nil {
		return nil, ErrConversationNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	var conv Conversation
	if err := json.Unmarshal([]byte(data), &conv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}

	s.mu.Lock()
	s.localCache[id] = &conv
	s.cacheAccess[id] = time.Now()
	s.evictLocked()
	metrics.ConversationCacheSize.Set(float64(len(s.localCache)))
	s.mu.Unlock()

	return &conv, nil
}

func (s *ConversationStore) save(ctx context.Context, conv *Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	if err := s.client.Set(ctx, s.key(conv.ID), data, s.ttl); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}

	s.mu.Lock()
	s.localCache[conv.ID] = conv
	s.cacheAccess[conv.ID] = time.Now()
	s.evictLocked()
	metrics.ConversationCacheSize.Set(float64(len(s.localCache)))
	s.mu.Unlock()

	return nil
}

func (s *ConversationStore) key(id string) string {
	return fmt.Sprintf("conversation:%s", id)
}

// evictLocked removes the oldest half of the local cache when it grows
// past maxCached. Caller must hold s.mu.
func (s *ConversationStore) evictLocked() {
	if len(s.localCache) <= s.maxCached {
		return
	}

	type accessEntry struct {
		id   string
		time time.Time
	}
	entries := make([]accessEntry, 0, len(s.localCache))
	for id := range s.localCache {
		entries = append(entries, accessEntry{id: id, time: s.cacheAccess[id]})
	}
	for i := 0; i < len(entries)-1; i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].time.Before(entries[i].time) {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}

	toRemove := s.maxCached / 2
	for i := 0; i < toRemove && i < len(entries); i++ {
		delete(s.localCache, entries[i].id)
		delete(s.cacheAccess, entries[i].id)
		metrics.ConversationCacheEvictions.Inc()
	}
}

// Close releases the underlying Redis connection.
func (s *ConversationStore) Close() error {
	return s.client.Close()
}
