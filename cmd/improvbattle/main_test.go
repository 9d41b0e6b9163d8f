package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotEnv(t *testing.T) {
	const key = "IMPROV_GAME_TOTAL_ROUNDS"

	tests := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{
			name:  "only .env present",
			files: map[string]string{".env": key + "=5\n"},
			want:  "5",
		},
		{
			name: ".env.local wins",
			files: map[string]string{
				".env.local": key + "=7\n",
				".env":       key + "=5\n",
			},
			want: "7",
		},
		{
			name: "no files",
			want: "",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(key, "")
			os.Unsetenv(key)

			dir := t.TempDir()
			for name, content := range tc.files {
				if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
					t.Fatal(err)
				}
			}

			err := loadDotEnv(filepath.Join(dir, ".env.local"), filepath.Join(dir, ".env"))
			if err != nil {
				t.Fatalf("loadDotEnv: %v", err)
			}
			if got := os.Getenv(key); got != tc.want {
				t.Errorf("%s = %q, want %q", key, got, tc.want)
			}
		})
	}
}

func TestLoadDotEnv_KeepsProcessEnvironment(t *testing.T) {
	const key = "IMPROV_GAME_HOST_NAME"
	t.Setenv(key, "sam")

	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte(key+"=jordan\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv: %v", err)
	}
	if got := os.Getenv(key); got != "sam" {
		t.Errorf("%s = %q, want the process value %q", key, got, "sam")
	}
}
