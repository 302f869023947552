package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wakestake/internal/logger"
)

const geocodeCacheTTL = time.Hour

// ErrGeocodeUpstream 上游地理编码服务返回错误。
var ErrGeocodeUpstream = errors.New("geocode upstream error")

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// GeocodeService 代理 Nominatim 反向地理编码，可选使用 Redis 缓存响应。
type GeocodeService struct {
	baseURL   string
	userAgent string
	email     string
	http      httpDoer
	cache     *redis.Client
	log       *logger.Logger
}

// NewGeocodeService 构造 GeocodeService，cache 为 nil 时不缓存。
func NewGeocodeService(baseURL, contactEmail string, cache *redis.Client, log *logger.Logger) *GeocodeService {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = "https://nominatim.openstreetmap.org"
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &GeocodeService{
		baseURL:   base,
		userAgent: "WakeStake/1.0 (+https://wakestake.com)",
		email:     strings.TrimSpace(contactEmail),
		http:      &http.Client{Timeout: 10 * time.Second},
		cache:     cache,
		log:       log,
	}
}

// SetHTTPClient 替换 HTTP 客户端，主要面向测试场景。
func (s *GeocodeService) SetHTTPClient(client httpDoer) {
	if client == nil {
		s.http = &http.Client{Timeout: 10 * time.Second}
		return
	}
	s.http = client
}

// Reverse 返回坐标对应的地址 JSON（原样透传上游响应）。
func (s *GeocodeService) Reverse(ctx context.Context, lat, lng float64) (json.RawMessage, error) {
	if !validCoordinate(lat, lng) {
		return nil, ErrInvalidCoordinates
	}

	key := fmt.Sprintf("geocode:%.5f:%.5f", lat, lng)
	if cached := s.cacheGet(ctx, key); cached != nil {
		return cached, nil
	}

	query := url.Values{}
	query.Set("format", "jsonv2")
	query.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	query.Set("zoom", "18")
	query.Set("addressdetails", "1")
	if s.email != "" {
		query.Set("email", s.email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/reverse?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build geocode request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeocodeUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read geocode response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: %s", ErrGeocodeUpstream, resp.Status)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: invalid json", ErrGeocodeUpstream)
	}

	s.cacheSet(ctx, key, body)
	return json.RawMessage(body), nil
}

func (s *GeocodeService) cacheGet(ctx context.Context, key string) json.RawMessage {
	if s.cache == nil {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	raw, err := s.cache.Get(cctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("geocode cache get failed", "key", key, "error", err)
		}
		return nil
	}
	return json.RawMessage(raw)
}

func (s *GeocodeService) cacheSet(ctx context.Context, key string, value []byte) {
	if s.cache == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.cache.Set(cctx, key, value, geocodeCacheTTL).Err(); err != nil {
		s.log.Warn("geocode cache set failed", "key", key, "error", err)
	}
}

// NewRedisClient 根据地址创建 Redis 客户端，addr 为空时返回 nil。
func NewRedisClient(addr, password string, dbIndex int) *redis.Client {
	if strings.TrimSpace(addr) == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           dbIndex,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}
