package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sachin-iam/sortify/internal/core"
	"github.com/sachin-iam/sortify/internal/logging"
	"github.com/sachin-iam/sortify/internal/textutil"
)

var (
	// Category flags
	rules   = flag.String("rules", "", "Category rules as name:kw1,kw2;name2:kw3 (keyword matching only)")
	domains = flag.String("domains", "", "Sender-domain rules as name:example.com;name2:corp.org")

	// Input flags
	inputFile = flag.String("file", "", "Input email file (use stdin if not specified)")
	verbose   = flag.Bool("verbose", false, "Enable verbose logging")
	jsonLog   = flag.Bool("json-log", false, "Output logs in JSON format")
)

func main() {
	flag.Parse()

	// Initialize logger
	logger, err := logging.InitConsoleLogger(*verbose, *jsonLog)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	categories := parseCategories(*rules, *domains)
	if len(categories) == 0 {
		logger.Fatal("No categories defined; pass -rules and/or -domains")
	}

	// Read email from file or stdin
	var emailReader io.Reader
	if *inputFile != "" {
		file, err := os.Open(*inputFile)
		if err != nil {
			logger.Fatal("Failed to open input file", zap.Error(err), zap.String("file", *inputFile))
		}
		defer file.Close()
		emailReader = file
		logger.Info("Reading email from file", zap.String("file", *inputFile))
	} else {
		emailReader = os.Stdin
		logger.Info("Reading email from stdin")
	}

	// Parse email
	parsed, err := mail.ReadMessage(bufio.NewReader(emailReader))
	if err != nil {
		logger.Fatal("Failed to parse email", zap.Error(err))
	}

	bodyBytes, err := io.ReadAll(parsed.Body)
	if err != nil {
		logger.Fatal("Failed to read email body", zap.Error(err))
	}
	body := string(bodyBytes)

	from, fromName := "", ""
	if addr, err := mail.ParseAddress(parsed.Header.Get("From")); err == nil {
		from, fromName = addr.Address, addr.Name
	} else {
		from = parsed.Header.Get("From")
	}

	msg := &core.Message{
		From:     from,
		FromName: fromName,
		Subject:  parsed.Header.Get("Subject"),
		Snippet:  textutil.Snippet(body, 256),
		Body:     body,
	}

	// Print email summary
	fmt.Printf("\n=== Email Summary ===\n")
	fmt.Printf("From: %s\n", parsed.Header.Get("From"))
	fmt.Printf("Subject: %s\n", msg.Subject)
	fmt.Printf("Body length: %d bytes\n", len(body))
	fmt.Printf("Categories: %d\n\n", len(categories))

	classifier := core.NewClassifier(nil, logger)

	startTime := time.Now()
	result := classifier.ClassifyFast(msg, categories)
	duration := time.Since(startTime)

	// Print results
	fmt.Printf("=== Results ===\n")
	fmt.Printf("Category: %s\n", result.Label)
	fmt.Printf("Confidence: %.4f\n", result.Confidence)
	fmt.Printf("Method: %s\n", result.Method)
	fmt.Printf("Model version: %s\n", result.ModelVersion)
	fmt.Printf("Processing time: %v\n", duration)
}

// parseCategories builds the category set from the rule flags. Both flags use
// name:value,value pairs separated by semicolons; entries for the same name
// merge.
func parseCategories(rules, domains string) []*core.Category {
	byName := make(map[string]*core.Category)
	ordered := make([]*core.Category, 0)

	get := func(name string) *core.Category {
		if cat, ok := byName[name]; ok {
			return cat
		}
		cat := &core.Category{Name: name}
		byName[name] = cat
		ordered = append(ordered, cat)
		return cat
	}

	for name, values := range parseRuleFlag(rules) {
		cat := get(name)
		cat.Keywords = append(cat.Keywords, values...)
	}
	for name, values := range parseRuleFlag(domains) {
		cat := get(name)
		cat.SenderDomains = append(cat.SenderDomains, values...)
	}
	return ordered
}

func parseRuleFlag(raw string) map[string][]string {
	out := make(map[string][]string)
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, values, ok := strings.Cut(entry, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		for _, value := range strings.Split(values, ",") {
			if value = strings.TrimSpace(value); value != "" {
				out[name] = append(out[name], value)
			}
		}
	}
	return out
}
