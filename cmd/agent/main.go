package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"card-reward-advisor/internal/database"
	"card-reward-advisor/internal/models"
	"card-reward-advisor/internal/provider"
	"card-reward-advisor/internal/recommender"
	"card-reward-advisor/internal/service"
)

const usage = `Usage: agent [flags] <command> [command flags]

Commands:
  sync-cards      Upsert cards from a JSON or CSV file
  refresh         Run one offer refresh pass over the configured sources
  daemon          Run periodic offer refreshes on a cron schedule
  recommend       Print the top ranked cards (or a split) for a purchase
  record-expense  Record a purchase against a card
  expenses        Print recently recorded expenses

Global flags:
  -db             Database file path (default "./card_reward_advisor.db")
  -bank-offers    JSON file for the "bank" offer source
  -social-offers  JSON file for the "social" offer source
`

func main() {
	dbPath := flag.String("db", "./card_reward_advisor.db", "Database file path")
	bankOffers := flag.String("bank-offers", "", `JSON file for the "bank" offer source`)
	socialOffers := flag.String("social-offers", "", `JSON file for the "social" offer source`)
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	db, err := database.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	svc := service.NewService(db, service.Options{
		Refresher: buildRefresher(db, *bankOffers, *socialOffers),
	})

	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "sync-cards":
		cmdSyncCards(svc, args)
	case "refresh":
		cmdRefresh(svc)
	case "daemon":
		cmdDaemon(db, *bankOffers, *socialOffers, args)
	case "recommend":
		cmdRecommend(svc, args)
	case "record-expense":
		cmdRecordExpense(svc, args)
	case "expenses":
		cmdExpenses(svc, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		flag.Usage()
		os.Exit(2)
	}
}

func buildRefresher(db *database.DB, bankOffers, socialOffers string) *provider.Refresher {
	var sources []provider.Source
	if bankOffers != "" {
		sources = append(sources, provider.NewJSONFileSource("bank", bankOffers))
	}
	if socialOffers != "" {
		sources = append(sources, provider.NewJSONFileSource("social", socialOffers))
	}
	if len(sources) == 0 {
		return nil
	}
	return provider.NewRefresher(db, sources)
}

func cmdSyncCards(svc *service.Service, args []string) {
	fs := flag.NewFlagSet("sync-cards", flag.ExitOnError)
	cardsPath := fs.String("cards", "", "Path to a JSON or CSV cards file")
	fs.Parse(args)

	if *cardsPath == "" {
		log.Fatal("-cards is required")
	}

	raw, err := os.ReadFile(*cardsPath)
	if err != nil {
		log.Fatalf("Failed to read cards file: %v", err)
	}

	count, err := svc.SyncCardsFromPayload(context.Background(), *cardsPath, raw)
	if err != nil {
		log.Fatalf("Failed to sync cards: %v", err)
	}
	fmt.Printf("Synced %d cards\n", count)
}

func cmdRefresh(svc *service.Service) {
	if previous, err := svc.LastRefreshAt(context.Background()); err == nil && previous != "never" {
		fmt.Printf("Previous refresh: %s\n", previous)
	}

	results, err := svc.RefreshOffers(context.Background())
	if err != nil {
		log.Fatalf("Failed to refresh offers: %v", err)
	}
	for _, result := range results {
		if result.Status == "failed" {
			fmt.Printf("%s: failed (%s)\n", result.Source, result.Detail)
		} else {
			fmt.Printf("%s: %d offers\n", result.Source, result.Offers)
		}
	}
}

func cmdDaemon(db *database.DB, bankOffers, socialOffers string, args []string) {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	cronSpec := fs.String("cron", "@every 48h", "Refresh schedule")
	fs.Parse(args)

	refresher := buildRefresher(db, bankOffers, socialOffers)
	if refresher == nil {
		log.Fatal("No offer sources configured; pass -bank-offers and/or -social-offers")
	}

	daemon, err := refresher.StartDaemon(context.Background(), *cronSpec)
	if err != nil {
		log.Fatalf("Failed to start refresh daemon: %v", err)
	}
	defer daemon.Stop()

	log.Printf("Refresh daemon running (%s)", *cronSpec)
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
	<-sigint
}

func cmdRecommend(svc *service.Service, args []string) {
	fs := flag.NewFlagSet("recommend", flag.ExitOnError)
	merchant := fs.String("merchant", "", "Merchant name")
	amount := fs.Float64("amount", 0, "Transaction amount")
	channel := fs.String("channel", recommender.DefaultChannel, "Purchase channel")
	category := fs.String("category", recommender.DefaultCategory, "Spend category")
	split := fs.Bool("split", false, "Suggest a split across cards")
	top := fs.Int("top", 3, "Number of ranked cards to print (ignored for splits)")
	fs.Parse(args)

	if *merchant == "" {
		log.Fatal("-merchant is required")
	}

	if ok, err := svc.HasCards(context.Background()); err == nil && !ok {
		log.Fatal("No cards synced yet; run sync-cards first")
	}

	response, err := svc.Recommend(context.Background(), models.RecommendRequest{
		Merchant: *merchant,
		Amount:   *amount,
		Channel:  *channel,
		Category: *category,
		Split:    *split,
	})
	if err != nil {
		log.Fatalf("Failed to compute recommendation: %v", err)
	}

	recommendations := response.Recommendations
	if !*split && *top > 0 && len(recommendations) > *top {
		recommendations = recommendations[:*top]
	}

	out, err := json.MarshalIndent(recommendations, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode recommendations: %v", err)
	}
	fmt.Println(string(out))
}

func cmdRecordExpense(svc *service.Service, args []string) {
	fs := flag.NewFlagSet("record-expense", flag.ExitOnError)
	cardID := fs.String("card-id", "", "Card identifier")
	merchant := fs.String("merchant", "", "Merchant name")
	amount := fs.Float64("amount", 0, "Amount spent")
	category := fs.String("category", "", "Spend category")
	fs.Parse(args)

	err := svc.RecordExpense(context.Background(), models.RecordExpenseRequest{
		CardID:   *cardID,
		Merchant: *merchant,
		Amount:   *amount,
		Category: *category,
	})
	if err != nil {
		log.Fatalf("Failed to record expense: %v", err)
	}
	fmt.Println("Expense recorded")
}

func cmdExpenses(svc *service.Service, args []string) {
	fs := flag.NewFlagSet("expenses", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Number of expenses to print")
	fs.Parse(args)

	expenses, err := svc.RecentExpenses(context.Background(), *limit)
	if err != nil {
		log.Fatalf("Failed to fetch expenses: %v", err)
	}
	if len(expenses) == 0 {
		fmt.Println("No expenses recorded")
		return
	}
	for _, e := range expenses {
		fmt.Printf("%s  %-24s %10.2f  %s\n", e.SpentAt.Format("2006-01-02"), e.Merchant, e.Amount, e.CardID)
	}
}
