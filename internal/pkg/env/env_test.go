package env

import "testing"

func TestGetEnvFallbacks(t *testing.T) {
	Env = map[string]string{"FROM_MAP": "map-value"}
	t.Setenv("FROM_OS", "os-value")

	if got := GetEnv("FROM_MAP", "def"); got != "map-value" {
		t.Fatalf("map lookup = %q", got)
	}
	if got := GetEnv("FROM_OS", "def"); got != "os-value" {
		t.Fatalf("os lookup = %q", got)
	}
	if got := GetEnv("MISSING", "def"); got != "def" {
		t.Fatalf("default = %q", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	Env = map[string]string{"GOOD": "42", "BAD": "forty-two", "PADDED": " 7 "}

	if got := GetEnvInt("GOOD", 1); got != 42 {
		t.Fatalf("GOOD = %d", got)
	}
	if got := GetEnvInt("BAD", 1); got != 1 {
		t.Fatalf("BAD = %d, want fallback", got)
	}
	if got := GetEnvInt("PADDED", 1); got != 7 {
		t.Fatalf("PADDED = %d", got)
	}
	if got := GetEnvInt("MISSING", 9); got != 9 {
		t.Fatalf("MISSING = %d", got)
	}
}

func TestGetEnvInt64Set(t *testing.T) {
	Env = map[string]string{"ADMIN_IDS": "111, 222,abc,, 333"}

	ids := GetEnvInt64Set("ADMIN_IDS")
	if len(ids) != 3 {
		t.Fatalf("len = %d, want 3", len(ids))
	}
	for _, want := range []int64{111, 222, 333} {
		if _, ok := ids[want]; !ok {
			t.Fatalf("missing id %d", want)
		}
	}
}
