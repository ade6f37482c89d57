package textutil_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sachin-iam/sortify/internal/textutil"
)

func TestFold(t *testing.T) {
	assert.Equal(t, "invoice", textutil.Fold("INVOICE"))
	assert.Equal(t, "factura", textutil.Fold("Fáctura"))
	assert.Equal(t, "uber", textutil.Fold("Über"))
	assert.Equal(t, "", textutil.Fold(""))
}

// Fold is called from the batch processor's workers and concurrent mailbox
// fetches at the same time; it must be safe and deterministic under that load.
func TestFoldConcurrent(t *testing.T) {
	const goroutines = 16
	const iterations = 50

	var wg sync.WaitGroup
	errs := make(chan string, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				if got := textutil.Fold("Fáctura Électronique RÉSUMÉ Über"); got != "factura electronique resume uber" {
					errs <- got
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for got := range errs {
		t.Fatalf("concurrent fold produced %q", got)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", textutil.Truncate("hello", 10))
	assert.Equal(t, "hel", textutil.Truncate("hello", 3))
	assert.Equal(t, "hello", textutil.Truncate("hello", 0), "non-positive max means no limit")

	// Never splits a rune in half
	truncated := textutil.Truncate("héllo", 2)
	assert.Equal(t, "h", truncated)
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "one two three", textutil.Snippet("one\n\ttwo   three", 50))
	assert.Equal(t, "one tw", textutil.Snippet("one two three", 6))
	assert.Equal(t, "", textutil.Snippet("   \n\t  ", 50))
}
