package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds harvester configuration.
type Config struct {
	BaseURL          string
	InputFile        string
	OutputFile       string
	OutputFormat     string // csv, json, or dual
	CookieFile       string
	ReviewQuota      int
	MaxPages         int // per book, 0 means until the feed ends
	Timeout          time.Duration
	EntryTimeout     time.Duration
	FeedTimeout      time.Duration
	LoadMoreTimeout  time.Duration
	WaitPoll         time.Duration
	Delay            time.Duration
	RandomDelay      time.Duration
	BookPause        time.Duration
	UserAgent        string
	RespectRobotsTxt bool
	ResolveCacheSize int
	ResolveCacheTTL  time.Duration
	MetricsAddr      string
	LogFile          string
	Verbose          bool
	Email            string
	Password         string
}

// DefaultConfig returns the defaults used against the public catalog.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:          "https://www.goodreads.com",
		InputFile:        "goodreads_list.csv",
		OutputFile:       "reviews_output.csv",
		OutputFormat:     "csv",
		CookieFile:       "goodreads_cookies.json",
		ReviewQuota:      100,
		MaxPages:         0,
		Timeout:          30 * time.Second,
		EntryTimeout:     10 * time.Second,
		FeedTimeout:      10 * time.Second,
		LoadMoreTimeout:  5 * time.Second,
		WaitPoll:         time.Second,
		Delay:            time.Second,
		RandomDelay:      500 * time.Millisecond,
		BookPause:        1500 * time.Millisecond,
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		RespectRobotsTxt: false,
		ResolveCacheSize: 1024,
		ResolveCacheTTL:  6 * time.Hour,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.InputFile == "" {
		return fmt.Errorf("input file cannot be empty")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.CookieFile == "" {
		return fmt.Errorf("cookie file cannot be empty")
	}
	if c.ReviewQuota <= 0 {
		return fmt.Errorf("review quota must be positive")
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("max pages cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.EntryTimeout < 0 || c.FeedTimeout < 0 || c.LoadMoreTimeout < 0 {
		return fmt.Errorf("wait timeouts cannot be negative")
	}
	if c.WaitPoll <= 0 {
		return fmt.Errorf("wait poll interval must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.BookPause < 0 {
		return fmt.Errorf("book pause cannot be negative")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.ResolveCacheSize <= 0 {
		return fmt.Errorf("resolve cache size must be positive")
	}
	if c.ResolveCacheTTL < 0 {
		return fmt.Errorf("resolve cache ttl cannot be negative")
	}
	if (c.Email == "") != (c.Password == "") {
		return fmt.Errorf("email and password must be set together")
	}

	return nil
}

// EnvString returns the trimmed value of key if it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// EnvInt parses key as an integer. ok is false when the variable is unset.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses key with time.ParseDuration.
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}
