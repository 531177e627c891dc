package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

var ErrDotEnvSyntax = errors.New("malformed env line")

// recognizedKeys are the variables Load reads, plus the ones the Google
// client libraries pick up on their own.
var recognizedKeys = map[string]struct{}{
	"PORT": {}, "API_AUTH_TOKEN": {}, "CORS_ALLOWED_ORIGINS": {},
	"DATABASE_URL": {}, "FIRESTORE_PROJECT_ID": {}, "FIRESTORE_COLLECTION": {},
	"MEMORY_REPO_LATENCY_MS": {}, "FIXTURES_PATH": {},
	"REDIS_ADDR": {}, "REDIS_PASSWORD": {}, "REDIS_DB": {}, "REDIS_STREAM": {},
	"REDIS_DLQ_STREAM": {}, "REDIS_GROUP": {}, "REDIS_CONSUMER": {},
	"SYNC_MAX_ATTEMPTS": {}, "WORKER_ENABLED": {},
	"QUEUE_BATCHING_ENABLED": {}, "QUEUE_BATCH_SIZE": {}, "QUEUE_BATCH_FLUSH_MS": {},
	"QUEUE_BATCH_FLUSH_TIMEOUT_MS": {}, "QUEUE_BATCH_QUEUE_CAPACITY": {}, "QUEUE_BATCH_MAX_IN_FLIGHT": {},
	"UPLOAD_ENDPOINT_URL": {}, "UPLOAD_TIMEOUT_MS": {}, "UPLOAD_CACHE_TTL_SECONDS": {}, "UPLOAD_CACHE_MAX_ENTRIES": {},
	"DEFAULT_LANGUAGE": {}, "DEFAULT_TIMEZONE": {},
	"RATE_LIMIT_RPS": {}, "RATE_LIMIT_BURST": {}, "RATE_LIMIT_WRITE_RPS": {}, "RATE_LIMIT_WRITE_BURST": {},
	"GOOGLE_APPLICATION_CREDENTIALS": {}, "FIRESTORE_EMULATOR_HOST": {},
}

// DotEnvReport lists keys only, never values, so it is safe to log.
type DotEnvReport struct {
	Files []string
	// Applied keys were set from a file.
	Applied []string
	// Shadowed keys were already set, by the process or an earlier file.
	Shadowed []string
	// Unknown keys are not read by this service; usually a typo.
	Unknown []string
}

func (r DotEnvReport) String() string {
	return fmt.Sprintf("files=%v applied=%d shadowed=%v unknown=%v",
		r.Files, len(r.Applied), r.Shadowed, r.Unknown)
}

// LoadDotEnv loads .env-like files in order. Existing process environment
// variables keep precedence, and earlier files win over later ones. Missing
// files are skipped; a malformed line stops loading with ErrDotEnvSyntax.
func LoadDotEnv(paths ...string) (DotEnvReport, error) {
	var report DotEnvReport
	for _, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			continue
		}
		err := loadDotEnvFile(trimmed, &report)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		report.Files = append(report.Files, trimmed)
		if err != nil {
			report.sortKeys()
			return report, fmt.Errorf("load %s: %w", trimmed, err)
		}
	}
	report.sortKeys()
	return report, nil
}

func (r *DotEnvReport) sortKeys() {
	sort.Strings(r.Applied)
	sort.Strings(r.Shadowed)
	sort.Strings(r.Unknown)
}

func loadDotEnvFile(path string, report *DotEnvReport) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))

		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || !validEnvKey(key) {
			return fmt.Errorf("line %d: %w", lineNumber, ErrDotEnvSyntax)
		}

		if _, known := recognizedKeys[key]; !known {
			report.Unknown = append(report.Unknown, key)
		}
		if _, exists := os.LookupEnv(key); exists {
			report.Shadowed = append(report.Shadowed, key)
			continue
		}
		if err := os.Setenv(key, parseDotEnvValue(value)); err != nil {
			return fmt.Errorf("line %d: %w", lineNumber, err)
		}
		report.Applied = append(report.Applied, key)
	}
	return scanner.Err()
}

func validEnvKey(key string) bool {
	if key == "" || (key[0] >= '0' && key[0] <= '9') {
		return false
	}
	for _, r := range key {
		switch {
		case r == '_', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func parseDotEnvValue(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	switch quote := trimmed[0]; {
	case quote == '\'' && len(trimmed) >= 2 && strings.HasSuffix(trimmed, "'"):
		return trimmed[1 : len(trimmed)-1]
	case quote == '"' && len(trimmed) >= 2 && strings.HasSuffix(trimmed, `"`):
		return dotEnvEscapes.Replace(trimmed[1 : len(trimmed)-1])
	}

	if index := strings.Index(trimmed, " #"); index >= 0 {
		return strings.TrimSpace(trimmed[:index])
	}
	return trimmed
}

var dotEnvEscapes = strings.NewReplacer(
	`\\`, `\`,
	`\n`, "\n",
	`\r`, "\r",
	`\t`, "\t",
	`\"`, `"`,
)
