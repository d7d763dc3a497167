// Package main — утилита запуска ежедневного начисления по HTTP.
// Предназначена для вызова из cron вне платформы; благодаря идемпотентности
// начисления повторные запуски и ретраи в течение суток безопасны.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

func main() {
	addr := flag.String("a", "http://localhost:8080", "base address of the envopro server")
	secret := flag.String("k", os.Getenv("CRON_SECRET"), "cron secret for the daily earnings endpoint")
	flag.Parse()

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "cron secret is required (flag -k or CRON_SECRET)")
		os.Exit(1)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 5
	client.RetryWaitMin = time.Second
	client.RetryWaitMax = 30 * time.Second
	client.Logger = nil

	req, err := retryablehttp.NewRequest(http.MethodPost, *addr+"/api/daily-earnings", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Authorization", "Bearer "+*secret)

	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trigger daily earnings: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var result struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		fmt.Fprintf(os.Stderr, "decode response: %v\n", err)
		os.Exit(1)
	}

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "daily earnings failed (%d): %s\n", resp.StatusCode, result.Error)
		os.Exit(1)
	}

	fmt.Println(result.Message)
}
