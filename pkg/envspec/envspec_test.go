package envspec

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    Decl
		wantErr bool
	}{
		{
			name: "bare name is required",
			spec: "API_KEY",
			want: Decl{Name: "API_KEY", Required: true},
		},
		{
			name: "literal default",
			spec: "PORT=8080",
			want: Decl{Name: "PORT", HasDefault: true, Default: "8080"},
		},
		{
			name: "empty literal default",
			spec: "SUFFIX=",
			want: Decl{Name: "SUFFIX", HasDefault: true, Default: ""},
		},
		{
			name: "interpolation without default is required",
			spec: "DB_URL=${DATABASE_URL}",
			want: Decl{Name: "DB_URL", FromVar: "DATABASE_URL", Required: true},
		},
		{
			name: "interpolation with default",
			spec: "LOG_LEVEL=${LOG_LEVEL:-info}",
			want: Decl{Name: "LOG_LEVEL", FromVar: "LOG_LEVEL", HasDefault: true, Default: "info"},
		},
		{
			name: "interpolation with empty default is required",
			spec: "TOKEN=${AUTH_TOKEN:-}",
			want: Decl{Name: "TOKEN", FromVar: "AUTH_TOKEN", Required: true},
		},
		{
			name:    "empty declaration",
			spec:    "",
			wantErr: true,
		},
		{
			name:    "invalid name",
			spec:    "9BAD=1",
			wantErr: true,
		},
		{
			name:    "unterminated interpolation",
			spec:    "X=${VAR",
			wantErr: true,
		},
		{
			name:    "invalid interpolation variable",
			spec:    "X=${NOT VALID}",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.spec, got, tt.want)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	decls, err := ParseAll([]string{
		"PORT=8080",
		"DB_URL=${DATABASE_URL}",
		"LOG_LEVEL=${LOG_LEVEL:-info}",
	})
	if err != nil {
		t.Fatalf("ParseAll() error = %v", err)
	}

	got, err := Resolve(decls, map[string]string{
		"DATABASE_URL": "postgres://db/app",
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	want := map[string]string{
		"PORT":      "8080",
		"DB_URL":    "postgres://db/app",
		"LOG_LEVEL": "info",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("Resolve()[%s] = %q, want %q", k, got[k], v)
		}
	}
}

func TestResolveSuppliedValueWinsOverDefault(t *testing.T) {
	decls, _ := ParseAll([]string{"LOG_LEVEL=${LOG_LEVEL:-info}", "PORT=8080"})
	got, err := Resolve(decls, map[string]string{"LOG_LEVEL": "debug", "PORT": "9090"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got["LOG_LEVEL"] != "debug" {
		t.Errorf("LOG_LEVEL = %q, want debug", got["LOG_LEVEL"])
	}
	if got["PORT"] != "9090" {
		t.Errorf("PORT = %q, want 9090", got["PORT"])
	}
}

func TestResolveMissingRequired(t *testing.T) {
	decls, _ := ParseAll([]string{"API_KEY", "TOKEN=${AUTH_TOKEN:-}"})

	_, err := Resolve(decls, nil)
	if err == nil {
		t.Fatal("Resolve() expected error for missing required variables")
	}
	for _, name := range []string{"API_KEY", "TOKEN"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not name missing variable %s", err, name)
		}
	}
}
