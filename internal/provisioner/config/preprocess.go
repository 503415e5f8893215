package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/joho/godotenv"
)

type templateContext struct {
	ENV map[string]string
}

var missingKeyRegex = regexp.MustCompile(`map has no entry for key "(.*?)"`)

// Preprocess replaces {{ .ENV.VAR }} placeholders with values from the
// process environment, after loading a .env file from the working directory
// if there is one. Existing environment variables win over .env entries.
func Preprocess(raw []byte) ([]byte, error) {
	if cwd, err := os.Getwd(); err == nil {
		_ = godotenv.Load(filepath.Join(cwd, ".env"))
	}

	env := map[string]string{}
	for _, e := range os.Environ() {
		k, v, ok := strings.Cut(e, "=")
		if ok {
			env[k] = v
		}
	}

	tmpl, err := template.New("config").Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("template error: %w", err)
	}
	var out bytes.Buffer
	if err := tmpl.Execute(&out, templateContext{ENV: env}); err != nil {
		if m := missingKeyRegex.FindStringSubmatch(err.Error()); len(m) == 2 {
			return nil, fmt.Errorf("missing environment variable: %s (set it in your shell or .env file)", m[1])
		}
		return nil, fmt.Errorf("template error: %w", err)
	}
	return out.Bytes(), nil
}
