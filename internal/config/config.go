package config

import (
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/chadiek/algoviz/internal/realtime"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress    string
	ServiceURL     string
	RealtimeURL    string
	RealtimeModel  string
	ICEServersJSON string
	AuthPassword   string

	SessionDBPath  string
	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded")
	}

	addr := getenv("HTTP_ADDRESS", ":8080")

	serviceURL := strings.TrimRight(getenv("ALGO_SERVICE_URL", "http://localhost:5000"), "/")

	iceJSON := os.Getenv("ICE_SERVERS_JSON")
	if iceJSON == "" {
		iceJSON = `[{"urls":["stun:stun.l.google.com:19302"]}]`
	}

	password := os.Getenv("AUTH_PASSWORD")
	if password == "" {
		log.Println("Warning: AUTH_PASSWORD not set - /ws is open to anyone")
	}

	supabaseURL := os.Getenv("SUPABASE_URL")
	supabaseKey := os.Getenv("SUPABASE_SERVICE_ROLE_KEY")
	if (supabaseURL == "") != (supabaseKey == "") {
		log.Println("Warning: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY must both be set - Supabase session archive disabled")
	}

	log.Printf("config: HTTP_ADDRESS=%s ALGO_SERVICE_URL=%s", addr, serviceURL)
	return Config{
		HTTPAddress:    addr,
		ServiceURL:     serviceURL,
		RealtimeURL:    getenv("OPENAI_REALTIME_URL", realtime.DefaultURL),
		RealtimeModel:  getenv("OPENAI_REALTIME_MODEL", realtime.DefaultModel),
		ICEServersJSON: iceJSON,
		AuthPassword:   password,
		SessionDBPath:  os.Getenv("SESSION_DB_PATH"),
		SupabaseURL:    supabaseURL,
		SupabaseKey:    supabaseKey,
		SupabaseBucket: getenv("SUPABASE_BUCKET", "voice-sessions"),
	}
}

// SupabaseEnabled reports whether both Supabase credentials are present.
func (c Config) SupabaseEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseKey != ""
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
