package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"preik/internal/db"
	"preik/internal/discovery"
	"preik/internal/helper"
	"preik/internal/models"
	"preik/internal/rag"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "create the database extensions, tables and indexes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		bunDB, err := db.Open(cmd.Context(), &cfg.Database)
		if err != nil {
			return err
		}
		defer bunDB.Close()

		if drop, _ := cmd.Flags().GetBool("drop-documents"); drop {
			if err := db.DropDocuments(cmd.Context(), bunDB); err != nil {
				return fmt.Errorf("failed to drop documents: %w", err)
			}
			log.Warn().Msg("Dropped documents table")
		}
		return db.InitDB(cmd.Context(), bunDB, cfg.Vector.Dimensions)
	},
}

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "manage stores",
}

var storeCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "create a store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		name, _ := cmd.Flags().GetString("name")
		plan, _ := cmd.Flags().GetString("plan")
		origins, _ := cmd.Flags().GetStringSlice("origins")
		email, _ := cmd.Flags().GetString("notify-email")
		if plan == "" {
			plan = cfg.Credits.DefaultPlan
		}
		if _, ok := models.PlanCredits[plan]; !ok {
			return fmt.Errorf("unknown plan %q", plan)
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		store, err := a.stores.CreateStore(cmd.Context(), name, plan, origins, email)
		if err != nil {
			return err
		}
		helper.PrettyPrint(store)
		return nil
	},
}

var storeListCmd = &cobra.Command{
	Use:   "list",
	Short: "list stores",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		stores, err := a.stores.ListStores(cmd.Context())
		if err != nil {
			return err
		}
		helper.PrettyPrint(stores)
		return nil
	},
}

var userCreateCmd = &cobra.Command{
	Use:   "create-user",
	Short: "create an admin or super admin and print its API key",
	RunE: func(cmd *cobra.Command, _ []string) error {
		email, _ := cmd.Flags().GetString("email")
		role, _ := cmd.Flags().GetString("role")
		storeID, _ := cmd.Flags().GetString("store")

		switch role {
		case models.RoleSuperAdmin:
			storeID = ""
		case models.RoleAdmin:
			if !helper.IsUUID(storeID) {
				return errors.New("admins need --store with a store id")
			}
		default:
			return fmt.Errorf("role must be %s or %s", models.RoleAdmin, models.RoleSuperAdmin)
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		key, err := helper.GenerateAPIKey("pk_")
		if err != nil {
			return err
		}
		p, err := a.profiles.CreateProfile(cmd.Context(), email, role, storeID, key)
		if err != nil {
			return err
		}
		helper.PrettyPrint(map[string]any{"user": p, "api_key": key})
		log.Warn().Msg("The API key is only shown once")
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "ingest a document file or text into a store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		storeID, _ := cmd.Flags().GetString("store")
		file, _ := cmd.Flags().GetString("file")
		text, _ := cmd.Flags().GetString("text")
		source, _ := cmd.Flags().GetString("source")
		if (file == "") == (text == "") {
			return errors.New("provide either --file or --text")
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		pipeline, err := a.pipeline()
		if err != nil {
			return err
		}

		if file != "" {
			res, err := pipeline.IngestFile(cmd.Context(), storeID, file)
			if err != nil {
				return err
			}
			helper.PrettyPrint(res)
			return nil
		}
		res, err := pipeline.IngestText(cmd.Context(), storeID, source, text)
		if err != nil {
			return err
		}
		helper.PrettyPrint(res)
		return nil
	},
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "scrape a web page, or a whole site with --discover, into a store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		storeID, _ := cmd.Flags().GetString("store")
		target, _ := cmd.Flags().GetString("url")
		discover, _ := cmd.Flags().GetBool("discover")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		pipeline, err := a.pipeline()
		if err != nil {
			return err
		}

		if !discover {
			res, err := pipeline.IngestURL(cmd.Context(), storeID, target)
			if err != nil {
				return err
			}
			helper.PrettyPrint(res)
			return nil
		}

		urls, err := a.finder().Discover(cmd.Context(), target, discovery.Options{Limit: limit})
		if err != nil {
			return err
		}
		log.Info().Int("pages", len(urls)).Str("url", target).Msg("Discovered pages")
		report, err := pipeline.IngestURLs(cmd.Context(), storeID, urls)
		helper.PrettyPrint(report)
		return err
	},
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "list the content pages of a site without ingesting them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		target, _ := cmd.Flags().GetString("url")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		urls, err := a.finder().Discover(cmd.Context(), target, discovery.Options{Limit: limit})
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(urls, "\n"))
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "ask a store's assistant a question, charging one credit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		storeID, _ := cmd.Flags().GetString("store")
		message, _ := cmd.Flags().GetString("message")

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		chat, err := a.chat()
		if err != nil {
			return err
		}

		answer, err := chat.Answer(cmd.Context(), rag.Request{StoreID: storeID, Message: message})
		if err != nil {
			return err
		}

		log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
		fmt.Printf("%s\n\n", message)

		log.Info().Msg("Sources: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
		for _, s := range answer.Sources {
			fmt.Printf("%s (page %d, %.2f)\n", s.Source, s.PageNumber, s.Similarity)
		}
		fmt.Println()

		log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
		fmt.Printf("%s\n\n", answer.Content)

		log.Info().Int64("used", answer.Usage.Used).Int64("remaining", answer.Usage.Remaining).Msg("Credits")
		return nil
	},
}

var creditsCmd = &cobra.Command{
	Use:       "credits [status|reset|limit]",
	Short:     "show or change a store's credits",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"status", "reset", "limit"},
	RunE: func(cmd *cobra.Command, args []string) error {
		storeID, _ := cmd.Flags().GetString("store")
		limit, _ := cmd.Flags().GetInt64("limit")

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		switch args[0] {
		case "reset":
			usage, err := a.meter.Reset(ctx, storeID)
			if err != nil {
				return err
			}
			helper.PrettyPrint(usage)
		case "limit":
			if !cmd.Flags().Changed("limit") {
				return errors.New("--limit is required")
			}
			usage, err := a.meter.SetLimit(ctx, storeID, limit)
			if err != nil {
				return err
			}
			helper.PrettyPrint(usage)
		default:
			usage, err := a.meter.Status(ctx, storeID)
			if err != nil {
				return err
			}
			helper.PrettyPrint(usage)
		}
		return nil
	},
}

func init() {
	initDBCmd.Flags().Bool("drop-documents", false, "drop the documents table first, needed when the embedding dimensions change")

	storeCreateCmd.Flags().String("name", "", "store name")
	storeCreateCmd.Flags().String("plan", "", "plan: starter, pro or business (default from config)")
	storeCreateCmd.Flags().StringSlice("origins", nil, "allowed widget origins, e.g. shop.no,*.shop.no")
	storeCreateCmd.Flags().String("notify-email", "", "address for credit notifications")
	_ = storeCreateCmd.MarkFlagRequired("name")

	userCreateCmd.Flags().String("email", "", "user email")
	userCreateCmd.Flags().String("role", "admin", "admin or super_admin")
	userCreateCmd.Flags().String("store", "", "store id of an admin")
	_ = userCreateCmd.MarkFlagRequired("email")

	storeCmd.AddCommand(storeCreateCmd, storeListCmd, userCreateCmd)

	ingestCmd.Flags().String("store", "", "store id")
	ingestCmd.Flags().String("file", "", "path to the document file")
	ingestCmd.Flags().String("text", "", "text to ingest")
	ingestCmd.Flags().String("source", "", "source name for --text")
	_ = ingestCmd.MarkFlagRequired("store")

	scrapeCmd.Flags().String("store", "", "store id")
	scrapeCmd.Flags().String("url", "", "page or site url")
	scrapeCmd.Flags().Bool("discover", false, "discover and scrape the site's content pages")
	scrapeCmd.Flags().Int("limit", discovery.DefaultLimit, "maximum pages with --discover")
	_ = scrapeCmd.MarkFlagRequired("store")
	_ = scrapeCmd.MarkFlagRequired("url")

	discoverCmd.Flags().String("url", "", "site url")
	discoverCmd.Flags().Int("limit", discovery.DefaultLimit, "maximum pages")
	_ = discoverCmd.MarkFlagRequired("url")

	queryCmd.Flags().String("store", "", "store id")
	queryCmd.Flags().String("message", "", "question to answer")
	_ = queryCmd.MarkFlagRequired("store")
	_ = queryCmd.MarkFlagRequired("message")

	creditsCmd.Flags().String("store", "", "store id")
	creditsCmd.Flags().Int64("limit", 0, "new credit limit for the limit action")
	_ = creditsCmd.MarkFlagRequired("store")

	rootCmd.AddCommand(initDBCmd, storeCmd, ingestCmd, scrapeCmd, discoverCmd, queryCmd, creditsCmd)
}
