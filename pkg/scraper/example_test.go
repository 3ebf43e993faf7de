package scraper_test

import (
	"context"
	"fmt"
	"log"

	"xscraper/pkg/identity"
	"xscraper/pkg/logger"
	"xscraper/pkg/ratelimit"
	"xscraper/pkg/scraper"
	"xscraper/pkg/session"
)

func ExampleDriver() {
	ring, err := identity.NewRing([]identity.Identity{
		{Handle: "first_account", Secret: "secret-1"},
		{Handle: "second_account", Secret: "secret-2"},
	}, identity.DefaultPolicy())
	if err != nil {
		log.Fatal(err)
	}

	// no pause between sessions, no proxies
	driver := scraper.NewDriver(ring, nil, session.NewMockRunner(), ratelimit.NewPacer(0, 0, 0), scraper.Options{
		TargetPerKeyword: 30,
		FailureBudget:    3,
	}, logger.NewNopLogger())

	report := driver.Run(context.Background(), []scraper.Request{
		{Keyword: "golang"},
		{Keyword: "kubernetes"},
	})

	for _, kr := range report.Keywords {
		fmt.Printf("%s: %s, %d posts\n", kr.Keyword, kr.Outcome, kr.Collected())
	}
}
