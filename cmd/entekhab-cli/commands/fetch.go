package commands

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"entekhab-backend/lib/captcha"
	"entekhab-backend/lib/configutil"
	"entekhab-backend/lib/scrapers/golestan"
	"entekhab-backend/lib/serviceutil"
	"entekhab-backend/lib/sqliteutil"
	"entekhab-backend/lib/telemetry"
	"entekhab-backend/services/coursestore"

	"github.com/spf13/cobra"
)

type OcrConfig struct {
	Endpoint string `json:"endpoint"`
	Length   int    `json:"length"`
}

type Config struct {
	BaseUrl  string    `json:"base_url"`
	Username string    `json:"username"`
	Password string    `json:"password"`
	Ocr      OcrConfig `json:"ocr"`
}

var fetchDb *string
var fetchJson *string
var fetchStatus *string

func init() {
	fetchDb = fetchCmd.Flags().String("db", "courses.db", "The database to write fetched courses to.")
	fetchJson = fetchCmd.Flags().String("json", "", "Optionally also write courses grouped by faculty to a json file.")
	fetchStatus = fetchCmd.Flags().String("status", "available", "Which course set to fetch: available, unavailable or both.")
	rootCmd.AddCommand(fetchCmd)
}

func statusFilters(flag string) []golestan.StatusFilter {
	switch flag {
	case "unavailable":
		return []golestan.StatusFilter{golestan.StatusUnavailable}
	case "both":
		return []golestan.StatusFilter{golestan.StatusAvailable, golestan.StatusUnavailable}
	}
	return []golestan.StatusFilter{golestan.StatusAvailable}
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [--db <path/to/courses.db>] [--status <available|unavailable|both>]",
	Short: "Logs into the portal and fetches the course offering report.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		cfg, err := configutil.ReadConfig[Config]("config.json5")
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}

		tel, err := telemetry.SetupFromEnv(ctx, "entekhab-cli")
		if err == nil {
			telemetry.InstrumentPerfStats(ctx)
			defer tel.Shutdown(context.Background())
		} else if !os.IsNotExist(err) {
			serviceutil.Fatal("failed to setup telemetry", err)
		}

		client, err := golestan.NewClient(golestan.Options{
			BaseUrl: cfg.BaseUrl,
			Solver: captcha.NewClient(captcha.ClientOptions{
				Endpoint:       cfg.Ocr.Endpoint,
				ExpectedLength: cfg.Ocr.Length,
			}),
		})
		if err != nil {
			serviceutil.Fatal("failed to initialize portal client", err)
		}

		out, err := sqliteutil.OpenDB(coursestore.Schema, *fetchDb)
		if err != nil {
			serviceutil.Fatal("failed to open db", err)
		}
		defer out.Close()
		store := coursestore.New(out)

		byFaculty := map[string]map[string][]golestan.Course{}
		for _, filter := range statusFilters(*fetchStatus) {
			slog.Info("fetching courses", "user", cfg.Username, "filter", filter)

			t1 := time.Now()
			courses, err := client.FetchCourses(ctx, golestan.Credentials{
				AccountId: cfg.Username,
				Password:  cfg.Password,
			}, filter)
			if err != nil {
				serviceutil.Fatal("failed to fetch courses", err)
			}
			slog.Info("fetched courses",
				"filter", filter,
				"count", len(courses.Courses),
				"skipped_rows", courses.ParseWarnings,
				"seconds", time.Since(t1).Seconds(),
			)

			err = store.Save(ctx, filter, courses.Courses)
			if err != nil {
				serviceutil.Fatal("failed to save courses", err)
			}

			for faculty, departments := range courses.ByFaculty {
				if byFaculty[faculty] == nil {
					byFaculty[faculty] = map[string][]golestan.Course{}
				}
				for department, list := range departments {
					byFaculty[faculty][department] = append(byFaculty[faculty][department], list...)
				}
			}

			renderCourses(courses.Courses)
		}

		if *fetchJson != "" {
			data, err := json.MarshalIndent(byFaculty, "", "  ")
			if err != nil {
				serviceutil.Fatal("failed to marshal courses", err)
			}
			err = os.WriteFile(*fetchJson, data, 0644)
			if err != nil {
				serviceutil.Fatal("failed to write json output", err)
			}
			slog.Info("wrote json output", "path", *fetchJson)
		}
	},
}
