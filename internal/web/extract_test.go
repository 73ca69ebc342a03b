package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serveHTML(t *testing.T, html string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(html))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchExtractsTitleAndText(t *testing.T) {
	srv := serveHTML(t, `<html>
		<head><title> Release Notes </title></head>
		<body>
			<nav>Home | About</nav>
			<script>alert("hi")</script>
			<main>
				<h1>Version 2.0</h1>
				<p>The storage layer was rewritten.</p>
				<ul><li>Faster queries</li></ul>
			</main>
			<footer>copyright</footer>
		</body>
	</html>`)

	x := NewExtractor(srv.Client())
	title, text, err := x.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if title != "Release Notes" {
		t.Errorf("title = %q", title)
	}
	for _, want := range []string{"Version 2.0", "The storage layer was rewritten.", "Faster queries"} {
		if !strings.Contains(text, want) {
			t.Errorf("text missing %q:\n%s", want, text)
		}
	}
	for _, banned := range []string{"alert", "Home | About", "copyright"} {
		if strings.Contains(text, banned) {
			t.Errorf("chrome leaked into text: %q", banned)
		}
	}
}

func TestFetchFallsBackToBodyText(t *testing.T) {
	srv := serveHTML(t, `<html><body>just   some
		plain    text</body></html>`)

	x := NewExtractor(srv.Client())
	_, text, err := x.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if text != "just some plain text" {
		t.Errorf("text = %q", text)
	}
}

func TestFetchNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	x := NewExtractor(srv.Client())
	if _, _, err := x.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 404 page")
	}
}

func TestFetchHonorsContext(t *testing.T) {
	srv := serveHTML(t, "<html><body><p>slow</p></body></html>")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	x := NewExtractor(srv.Client())
	if _, _, err := x.Fetch(ctx, srv.URL); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
