package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// CLI holds the client configuration
type CLI struct {
	BaseURL string
	Client  *http.Client
}

// ---- HTTP Helpers ----

// get returns the body of path. Health reports are returned for 503 too.
func (c *CLI) get(path string) ([]byte, int, error) {
	resp, err := c.Client.Get(c.BaseURL + path)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

func (c *CLI) healthCommand(args []string) error {
	data, code, err := c.get("/healthz")
	if err != nil {
		return err
	}
	if err := prettyPrint(data); err != nil {
		return err
	}
	if code != http.StatusOK {
		return fmt.Errorf("server unhealthy (HTTP %d)", code)
	}
	return nil
}

// ---- Utility Functions ----

func parseArgs(args []string) map[string]string {
	opts := make(map[string]string)
	for _, arg := range args {
		if strings.HasPrefix(arg, "--") {
			parts := strings.SplitN(strings.TrimPrefix(arg, "--"), "=", 2)
			if len(parts) == 2 {
				opts[parts[0]] = parts[1]
			} else {
				opts[parts[0]] = "true"
			}
		}
	}
	return opts
}

func prettyPrint(data []byte) error {
	var obj any
	if err := json.Unmarshal(data, &obj); err != nil {
		fmt.Println(string(data))
		return nil
	}
	out, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
