package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Caia-Tech/caia-coursecrawl/internal/procurement/scraping"
	"github.com/Caia-Tech/caia-coursecrawl/internal/storage"
	"github.com/Caia-Tech/caia-coursecrawl/pkg/content"
	"github.com/Caia-Tech/caia-coursecrawl/pkg/logging"
	"github.com/Caia-Tech/caia-coursecrawl/pkg/pipeline"
)

func main() {
	if len(os.Args) < 2 {
		showHelp()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command := os.Args[1]

	switch command {
	case "search":
		if len(os.Args) < 3 {
			fmt.Println("❌ Usage: coursecrawl search <query> [level] [max-results]")
			os.Exit(1)
		}
		level := ""
		if len(os.Args) > 3 {
			level = os.Args[3]
		}
		maxResults := 5
		if len(os.Args) > 4 {
			n, err := strconv.Atoi(os.Args[4])
			if err != nil || n < 1 {
				fmt.Printf("❌ Invalid max-results %q\n", os.Args[4])
				os.Exit(1)
			}
			maxResults = n
		}
		searchAndScrape(ctx, os.Args[2], level, maxResults)

	case "page":
		if len(os.Args) < 3 {
			fmt.Println("❌ Usage: coursecrawl page <url> [topic]")
			os.Exit(1)
		}
		topic := ""
		if len(os.Args) > 3 {
			topic = os.Args[3]
		}
		scrapePage(ctx, os.Args[2], topic)

	case "sources":
		var topics []string
		if len(os.Args) > 2 {
			topics = parseList(os.Args[2])
		}
		scrapeSources(ctx, topics)

	case "query":
		topic, level := "", ""
		if len(os.Args) > 2 {
			topic = os.Args[2]
		}
		if len(os.Args) > 3 {
			level = os.Args[3]
		}
		queryKnowledge(ctx, topic, level)

	default:
		showHelp()
	}
}

func loadConfig() *pipeline.PipelineConfig {
	base, err := pipeline.PresetConfig(os.Getenv("COURSECRAWL_PRESET"))
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Invalid preset")
	}
	// CLI output goes to the terminal only
	base.Logging.OutputFile = ""
	base.Logging.Console = true
	config, err := pipeline.LoadConfigFrom(base, os.Getenv("COURSECRAWL_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to load configuration")
	}
	if err := logging.SetupLogger(config.Logging); err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to set up logging")
	}
	return config
}

func newService() *scraping.ScrapingService {
	config := loadConfig()
	service, err := scraping.NewScrapingService(config.Scraping, scraping.ServiceDeps{})
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to initialize scraping service")
	}
	return service
}

func searchAndScrape(ctx context.Context, query, levelName string, maxResults int) {
	level, err := content.ParseLevel(levelName)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	service := newService()
	defer service.Close()

	fmt.Printf("🔄 Searching for %q (level: %s, max: %d)\n", query, level, maxResults)
	report, err := service.SearchAndScrape(ctx, query, level, maxResults)
	if err != nil {
		fmt.Printf("❌ Search and scrape failed: %v\n", err)
		service.Close()
		os.Exit(1)
	}
	if report.SearchExhausted {
		fmt.Printf("⚠️  Search gave up: %s\n", report.SearchError)
	}

	printResults(report.Results)
	fmt.Printf("📊 %d candidates, %d attempts, %d skipped, %d blocked, %d failed in %s\n",
		report.Stats.Candidates, report.Stats.Attempts, report.Stats.Skipped,
		report.Stats.Blocked, report.Stats.Failed, report.Duration.Round(time.Millisecond))
}

func scrapePage(ctx context.Context, rawURL, topic string) {
	service := newService()
	defer service.Close()

	fmt.Printf("🔄 Scraping %s\n", rawURL)
	outcome, err := service.ScrapePage(ctx, rawURL, topic)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		service.Close()
		os.Exit(1)
	}
	if !outcome.IsSuccess() {
		fmt.Printf("⚠️  %s\n", outcome)
		service.Close()
		os.Exit(1)
	}
	printResults([]content.ScrapedContent{outcome.Content})
}

func scrapeSources(ctx context.Context, topics []string) {
	service := newService()
	defer service.Close()

	if len(topics) == 0 {
		fmt.Println("🔄 Crawling every configured topic")
	} else {
		fmt.Printf("🔄 Crawling configured topics: %s\n", strings.Join(topics, ", "))
	}
	results, err := service.ScrapeConfiguredSources(ctx, topics...)
	if err != nil {
		fmt.Printf("❌ Configured source crawl failed: %v\n", err)
		service.Close()
		os.Exit(1)
	}
	printResults(results)

	for name, m := range service.GetMetrics().SourceMetrics {
		fmt.Printf("   %s: %d ok, %d failed\n", name, m.SuccessfulScrapes, m.FailedScrapes)
	}
}

func queryKnowledge(ctx context.Context, topic, levelName string) {
	level, err := content.ParseLevel(levelName)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	config := loadConfig()
	store := storage.NewFileKnowledgeStore(config.Scraping.DataDir, nil)
	records, err := store.Query(ctx, topic, level)
	if err != nil {
		fmt.Printf("❌ Failed to read %s: %v\n", store.Path(), err)
		os.Exit(1)
	}

	fmt.Printf("📚 %d records in %s\n", len(records), store.Path())
	for _, r := range records {
		fmt.Printf("   [%s] %s (%s)\n", r.Level, r.Title, r.URL)
	}
}

func printResults(results []content.ScrapedContent) {
	if len(results) == 0 {
		fmt.Println("📭 No new content")
		return
	}
	fmt.Printf("🎉 %d pages scraped\n", len(results))
	for i, r := range results {
		fmt.Printf("   %d. %s\n", i+1, r.Title)
		fmt.Printf("      %s | %s | %d words, %d code blocks\n", r.URL, r.Level, r.WordCount(), len(r.Code))
	}
}

func parseList(s string) []string {
	items := make([]string, 0)
	for _, item := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

func showHelp() {
	fmt.Println("🔧 coursecrawl")
	fmt.Println("==============")
	fmt.Println("")
	fmt.Println("Usage: coursecrawl [command] [options]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  search <query> [level] [max]  - Search the web and scrape lessons")
	fmt.Println("  page <url> [topic]            - Scrape a single page")
	fmt.Println("  sources [topic1,topic2]       - Crawl the configured tutorial sites")
	fmt.Println("  query [topic] [level]         - List stored knowledge base records")
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Println("  coursecrawl search \"python list comprehension\" beginner 3")
	fmt.Println("  coursecrawl page https://go.dev/tour/concurrency/1 go")
	fmt.Println("  coursecrawl sources python,sql")
	fmt.Println("")
	fmt.Println("Environment:")
	fmt.Println("  COURSECRAWL_CONFIG   - JSON config file")
	fmt.Println("  COURSECRAWL_PRESET   - default, development or production")
	fmt.Println("  COURSECRAWL_DATA_DIR - knowledge base and URL state directory")
	fmt.Println("")
}
