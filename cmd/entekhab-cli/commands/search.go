package commands

import (
	"strings"

	"entekhab-backend/lib/scrapers/golestan"
	"entekhab-backend/lib/serviceutil"
	"entekhab-backend/lib/sqliteutil"
	"entekhab-backend/services/coursestore"

	"github.com/spf13/cobra"
)

var searchDb *string
var searchStatus *string
var searchLimit *int

func init() {
	searchDb = searchCmd.Flags().String("db", "courses.db", "The database fetched courses were written to.")
	searchStatus = searchCmd.Flags().String("status", "available", "Which course set to search: available or unavailable.")
	searchLimit = searchCmd.Flags().Int("limit", 20, "The maximum amount of results to show.")
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search <query...>",
	Short: "Searches previously fetched courses by name or instructor.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		db, err := sqliteutil.OpenDB(coursestore.Schema, *searchDb)
		if err != nil {
			serviceutil.Fatal("failed to open db", err)
		}
		defer db.Close()
		store := coursestore.New(db)

		filter := golestan.StatusAvailable
		if *searchStatus == "unavailable" {
			filter = golestan.StatusUnavailable
		}

		courses, err := store.Search(ctx, filter, strings.Join(args, " "), *searchLimit)
		if err != nil {
			serviceutil.Fatal("failed to search courses", err)
		}
		renderCourses(courses)
	},
}
