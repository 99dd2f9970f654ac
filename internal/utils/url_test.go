package utils

import "testing"

func TestNormalizeHost(t *testing.T) {
	host, err := NormalizeHost("https://Example.COM.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if host != "example.com" {
		t.Fatalf("unexpected host: %s", host)
	}
}

func TestNormalizeHostPunycode(t *testing.T) {
	host, err := NormalizeHost("https://bücher.example")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if host != "xn--bcher-kva.example" {
		t.Fatalf("unexpected host: %s", host)
	}
}

func TestExtractURLsStopsAtHost(t *testing.T) {
	urls := ExtractURLs("look https://evil.example/phish and http://media.tenor.com/x.gif")
	if len(urls) != 2 {
		t.Fatalf("expected 2 urls, got %v", urls)
	}
	if urls[0] != "https://evil.example" || urls[1] != "http://media.tenor.com" {
		t.Fatalf("unexpected urls: %v", urls)
	}
	if got := ExtractURLs("no links here, just evil.example"); len(got) != 0 {
		t.Fatalf("expected no urls, got %v", got)
	}
}

func TestExtractURLsUnicodeHosts(t *testing.T) {
	cases := []struct{ content, want string }{
		{"https://раураl.com/login", "https://раураl.com"},
		{"see https://tenor.comрhish.ru/x", "https://tenor.comрhish.ru"},
		{"https://bücher.example/a", "https://bücher.example"},
	}
	for _, tc := range cases {
		urls := ExtractURLs(tc.content)
		if len(urls) != 1 || urls[0] != tc.want {
			t.Fatalf("ExtractURLs(%q) = %v, want [%s]", tc.content, urls, tc.want)
		}
	}
	if got := ExtractURLs("no links here, just раураl.com"); len(got) != 0 {
		t.Fatalf("expected no urls, got %v", got)
	}
}

func TestHostAllowed(t *testing.T) {
	defaults := []string{"tenor.com"}
	guild := []string{"good.com"}
	cases := map[string]bool{
		"tenor.com":       true,
		"media.tenor.com": true,
		"nottenor.com":    false,
		"good.com":        true,
		"bad.com":         false,
		"good.com.evil":   false,
	}
	for host, want := range cases {
		if got := HostAllowed(host, defaults, guild); got != want {
			t.Fatalf("HostAllowed(%q) = %v, want %v", host, got, want)
		}
	}
}
