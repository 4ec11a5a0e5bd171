package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/whisper/polyglot/internal/language"
	"github.com/whisper/polyglot/internal/translate/mocks"
)

func TestLibreTranslateProvider_Translate(t *testing.T) {
	var got libreRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/translate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"translatedText":"नमस्ते"}`))
	}))
	defer server.Close()

	p := NewLibreTranslateProvider(server.URL+"/", "secret", time.Second, quietLogger())
	out, err := p.Translate(context.Background(), "Hello", "en", "hi")
	require.NoError(t, err)
	require.Equal(t, "नमस्ते", out)
	require.Equal(t, "Hello", got.Q)
	require.Equal(t, "en", got.Source)
	require.Equal(t, "hi", got.Target)
	require.Equal(t, "text", got.Format)
	require.Equal(t, "secret", got.APIKey)
}

func TestLibreTranslateProvider_Batch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"translatedText":["एक","दो"]}`))
	}))
	defer server.Close()

	p := NewLibreTranslateProvider(server.URL, "", time.Second, quietLogger())
	out, err := p.TranslateBatch(context.Background(), []string{"one", "two"}, "en", "hi")
	require.NoError(t, err)
	require.Equal(t, []string{"एक", "दो"}, out)

	_, err = p.TranslateBatch(context.Background(), []string{"one"}, "en", "hi")
	require.Error(t, err, "length mismatch must fail")
}

func TestLibreTranslateProvider_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"non-ok status", http.StatusForbidden, "Forbidden", "unexpected status 403"},
		{"api error field", http.StatusOK, `{"error":"language not supported"}`, "language not supported"},
		{"empty body", http.StatusOK, `{}`, "empty response"},
		{"bad json", http.StatusOK, `not json`, "decode response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p := NewLibreTranslateProvider(server.URL, "", time.Second, quietLogger())
			_, err := p.Translate(context.Background(), "Hello", "en", "fr")
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestPseudoProvider(t *testing.T) {
	p := PseudoProvider{}
	out, err := p.Translate(context.Background(), "Hello", "en", "hi")
	require.NoError(t, err)
	require.Equal(t, "[hi] Hello", out)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Translate(ctx, "Hello", "en", "hi")
	require.ErrorIs(t, err, context.Canceled)
}

func TestWhatlangDetector(t *testing.T) {
	d := NewWhatlangDetector(language.Default())

	tests := []struct {
		name string
		text string
		want string
	}{
		{"single word", "hello", "en"},
		{"short phrase", "how are you", "en"},
		{"greeting", "good morning", "en"},
		{"sentence", "The quick brown fox jumps over the lazy dog and keeps running through the field", "en"},
		{"short hindi", "नमस्ते आप कैसे हैं", "hi"},
		{"tamil script", "வணக்கம்", "ta"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := d.Detect(tt.text)
			require.NoError(t, err)
			require.Equal(t, tt.want, code)
		})
	}
}

func TestWhatlangDetector_Undetected(t *testing.T) {
	d := NewWhatlangDetector(language.Default())

	// Han resolves to Mandarin and no Cyrillic language is registered.
	for _, text := range []string{
		"   ",
		"12345 !!",
		"你好，你今天怎么样",
		"Привет, как дела",
	} {
		_, err := d.Detect(text)
		require.ErrorIs(t, err, ErrUndetected, text)
	}
}

func TestWhatlangDetector_MinConfidence(t *testing.T) {
	d := NewWhatlangDetector(language.NewRegistry([]language.Entry{
		{Name: "english", Code: "en"},
		{Name: "hindi", Code: "hi"},
	}))
	d.MinConfidence = 1.1

	_, err := d.Detect("hello")
	require.ErrorIs(t, err, ErrUndetected)
}

func TestParseEngineType(t *testing.T) {
	tests := []struct {
		in      string
		want    EngineType
		wantErr bool
	}{
		{"mock", EngineMock, false},
		{"LibreTranslate", EngineLibreTranslate, false},
		{" GOOGLE ", EngineGoogle, false},
		{"deepl", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEngineType(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNewProvider(t *testing.T) {
	p, closeFn, err := NewProvider(context.Background(), ProviderConfig{Engine: EngineMock, Logger: quietLogger()})
	require.NoError(t, err)
	require.NotNil(t, closeFn)
	require.Equal(t, "mock", p.Name())
	require.NoError(t, closeFn())

	p, _, err = NewProvider(context.Background(), ProviderConfig{Engine: EngineLibreTranslate, Logger: quietLogger()})
	require.NoError(t, err)
	require.IsType(t, &LibreTranslateProvider{}, p)

	_, _, err = NewProvider(context.Background(), ProviderConfig{Engine: "deepl", Logger: quietLogger()})
	require.Error(t, err)
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	clean := func() {
		iter := client.Scan(ctx, 0, cachePrefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	clean()
	t.Cleanup(func() {
		clean()
		client.Close()
	})
	return client
}

func TestCachedProvider(t *testing.T) {
	rdb := newTestRedis(t)
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockProvider(ctrl)
	// Second call must be served from cache.
	inner.EXPECT().Translate(gomock.Any(), "Hello", "en", "hi").Return("नमस्ते", nil).Times(1)

	c := NewCachedProvider(inner, rdb, time.Minute, quietLogger())
	for i := 0; i < 2; i++ {
		out, err := c.Translate(context.Background(), "Hello", "en", "hi")
		require.NoError(t, err)
		require.Equal(t, "नमस्ते", out)
	}
}

func TestCachedProvider_BatchOnlyMisses(t *testing.T) {
	rdb := newTestRedis(t)
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockBatchProvider(ctrl)
	inner.EXPECT().Translate(gomock.Any(), "one", "en", "hi").Return("एक", nil)
	inner.EXPECT().TranslateBatch(gomock.Any(), []string{"two"}, "en", "hi").Return([]string{"दो"}, nil)

	c := NewCachedProvider(inner, rdb, time.Minute, quietLogger())
	_, err := c.Translate(context.Background(), "one", "en", "hi")
	require.NoError(t, err)

	out, err := c.TranslateBatch(context.Background(), []string{"one", "two"}, "en", "hi")
	require.NoError(t, err)
	require.Equal(t, []string{"एक", "दो"}, out)
}

func TestCachedProvider_RedisDownFailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()

	ctrl := gomock.NewController(t)
	inner := mocks.NewMockProvider(ctrl)
	inner.EXPECT().Translate(gomock.Any(), "Hello", "en", "hi").Return("नमस्ते", nil)

	out, err := NewCachedProvider(inner, rdb, time.Minute, quietLogger()).Translate(context.Background(), "Hello", "en", "hi")
	require.NoError(t, err)
	require.Equal(t, "नमस्ते", out)
}
