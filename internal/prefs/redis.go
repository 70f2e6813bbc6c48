package prefs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix      = "caption:prefs:"
	voiceFieldPref = "voice:"

	// DefaultTTL expires preferences of clients that stopped connecting
	DefaultTTL = 30 * 24 * time.Hour
)

// RedisStore keeps each client's preferences in one hash
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to the server at url (redis://...)
func NewRedisStore(url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: redis.NewClient(opts), ttl: ttl}, nil
}

func (s *RedisStore) Get(ctx context.Context, clientID string) (Preferences, error) {
	if clientID == "" {
		return Preferences{}, ErrInvalidClientID
	}
	fields, err := s.client.HGetAll(ctx, keyPrefix+clientID).Result()
	if err != nil {
		return Preferences{}, fmt.Errorf("load preferences: %w", err)
	}
	return fromHash(fields), nil
}

// Save replaces the stored hash with p
func (s *RedisStore) Save(ctx context.Context, clientID string, p Preferences) error {
	if clientID == "" {
		return ErrInvalidClientID
	}
	key := keyPrefix + clientID

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if fields := toHash(p); len(fields) > 0 {
			pipe.HSet(ctx, key, fields)
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func toHash(p Preferences) map[string]interface{} {
	fields := make(map[string]interface{})
	set := func(name, value string) {
		if value != "" {
			fields[name] = value
		}
	}
	set("provider", p.Provider)
	set("openai_api_key", p.OpenAIAPIKey)
	set("gemini_api_key", p.GeminiAPIKey)
	set("libretranslate_api_key", p.LibreTranslateAPIKey)
	set("from", p.From)
	set("to", p.To)
	if p.AutoSpeak != nil {
		fields["auto_speak"] = strconv.FormatBool(*p.AutoSpeak)
	}
	if p.SilenceTimeoutMs > 0 {
		fields["silence_timeout_ms"] = strconv.Itoa(p.SilenceTimeoutMs)
	}
	for panel, name := range p.Voices {
		set(voiceFieldPref+panel, name)
	}
	return fields
}

func fromHash(fields map[string]string) Preferences {
	var p Preferences
	for name, value := range fields {
		switch name {
		case "provider":
			p.Provider = value
		case "openai_api_key":
			p.OpenAIAPIKey = value
		case "gemini_api_key":
			p.GeminiAPIKey = value
		case "libretranslate_api_key":
			p.LibreTranslateAPIKey = value
		case "from":
			p.From = value
		case "to":
			p.To = value
		case "auto_speak":
			if v, err := strconv.ParseBool(value); err == nil {
				p.AutoSpeak = &v
			}
		case "silence_timeout_ms":
			if v, err := strconv.Atoi(value); err == nil {
				p.SilenceTimeoutMs = v
			}
		default:
			if panel, ok := strings.CutPrefix(name, voiceFieldPref); ok {
				if p.Voices == nil {
					p.Voices = make(map[string]string)
				}
				p.Voices[panel] = value
			}
		}
	}
	return p
}
