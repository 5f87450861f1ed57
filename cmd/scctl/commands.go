package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/supplychain/backend/internal/apiclient"
	appintegration "github.com/supplychain/backend/internal/application/integration"
	appkyc "github.com/supplychain/backend/internal/application/kyc"
	apponboarding "github.com/supplychain/backend/internal/application/onboarding"
)

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

func (a *app) loginCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		Long: `Logs in and stores the access and refresh tokens in the session file.
The password can also be given through SCCTL_PASSWORD.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("SCCTL_PASSWORD")
			}
			if username == "" || password == "" {
				return fmt.Errorf("--username and --password are required")
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			res, err := a.client.Login(ctx, username, password)
			if err != nil {
				return err
			}
			name := username
			if res.User != nil {
				name = res.User.DisplayName
			}
			fmt.Fprintf(a.out, "Logged in as %s (session valid until %s)\n", name, formatTime(&res.AccessTokenExpiresAt))
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "user name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.client.Logout()
			fmt.Fprintln(a.out, "Logged out")
			return nil
		},
	}
}

func (a *app) meCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the logged in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			me, err := a.client.Me(ctx)
			if err != nil {
				return err
			}
			return a.print(me,
				[]string{"USERNAME", "NAME", "ROLE", "TENANT"},
				[][]string{{me.Username, me.DisplayName, string(me.Role), me.TenantID.String()}},
			)
		},
	}
}

// ---------------------------------------------------------------------------
// Integrations
// ---------------------------------------------------------------------------

func (a *app) integrationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "integrations",
		Aliases: []string{"int", "integration"},
		Short:   "Manage SAP, Power BI, IoT and Shopify integrations",
	}
	cmd.AddCommand(
		a.integrationsListCmd(),
		a.integrationsCreateCmd(),
		a.integrationActionCmd("connect", "Connect an integration", (*apiclient.Client).ConnectIntegration),
		a.integrationActionCmd("disconnect", "Disconnect an integration", (*apiclient.Client).DisconnectIntegration),
		a.integrationsSyncCmd(),
		a.integrationsSyncAllCmd(),
	)
	return cmd
}

func (a *app) integrationsListCmd() *cobra.Command {
	var opts apiclient.ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List integrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			items, meta, err := a.client.ListIntegrations(ctx, opts)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(items))
			for _, it := range items {
				rows = append(rows, []string{
					it.ID.String(), it.Name, string(it.Type), string(it.Status),
					orDash(string(it.LastSyncStatus)), formatTime(it.LastSyncAt),
				})
			}
			if err := a.print(items, []string{"ID", "NAME", "TYPE", "STATUS", "LAST SYNC", "AT"}, rows); err != nil {
				return err
			}
			if meta != nil && a.output == "table" {
				fmt.Fprintf(a.out, "\n%d of %d (page %d/%d)\n", len(items), meta.Total, meta.Page, max(meta.TotalPages, 1))
			}
			return nil
		},
	}
	addListFlags(cmd, &opts)
	return cmd
}

func (a *app) integrationsCreateCmd() *cobra.Command {
	var (
		req      appintegration.CreateIntegrationRequest
		settings []string
		creds    []string
		interval int
		disabled bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new integration",
		Example: `  scctl integrations create --name "SAP prod" --type SAP \
    --endpoint https://sap.example.com/odata --cred username=svc --cred password=secret \
    --setting client=100 --interval 60`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if req.Settings, err = parsePairs(settings); err != nil {
				return err
			}
			if req.Credentials, err = parsePairs(creds); err != nil {
				return err
			}
			req.Type = strings.ToUpper(req.Type)
			if cmd.Flags().Changed("interval") {
				req.SyncIntervalMinutes = &interval
			}
			if disabled {
				enabled := false
				req.Enabled = &enabled
			}

			ctx, cancel := a.context(cmd)
			defer cancel()
			it, err := a.client.CreateIntegration(ctx, req)
			if err != nil {
				return err
			}
			return a.print(it,
				[]string{"ID", "NAME", "TYPE", "STATUS"},
				[][]string{{it.ID.String(), it.Name, string(it.Type), string(it.Status)}},
			)
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Name, "name", "", "display name")
	f.StringVar(&req.Type, "type", "", "SAP, POWERBI, IOT or SHOPIFY")
	f.StringVar(&req.Endpoint, "endpoint", "", "base URL of the external system")
	f.StringArrayVar(&settings, "setting", nil, "key=value setting, repeatable")
	f.StringArrayVar(&creds, "cred", nil, "key=value credential, repeatable")
	f.IntVar(&interval, "interval", 0, "scheduled sync interval in minutes, 0 disables")
	f.BoolVar(&disabled, "disabled", false, "create the integration disabled")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("endpoint")
	return cmd
}

func (a *app) integrationActionCmd(use, short string, action func(*apiclient.Client, context.Context, uuid.UUID) (*appintegration.IntegrationResponse, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			it, err := action(a.client, ctx, id)
			if err != nil {
				return err
			}
			return a.print(it,
				[]string{"ID", "NAME", "STATUS"},
				[][]string{{it.ID.String(), it.Name, string(it.Status)}},
			)
		},
	}
}

func (a *app) integrationsSyncCmd() *cobra.Command {
	var (
		req   appintegration.SyncRequest
		since time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sync <id>",
		Short: "Run a manual sync and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			req.Direction = strings.ToUpper(req.Direction)
			for i := range req.Kinds {
				req.Kinds[i] = strings.ToUpper(req.Kinds[i])
			}
			if since > 0 {
				t := time.Now().Add(-since).UTC()
				req.Since = &t
			}

			ctx, cancel := a.context(cmd)
			defer cancel()
			run, err := a.client.SyncIntegration(ctx, id, req)
			if err != nil {
				return err
			}
			return a.print(run,
				[]string{"RUN", "STATUS", "TOTAL", "CREATED", "UPDATED", "UNCHANGED", "SKIPPED", "PUSHED", "FAILED", "MS"},
				[][]string{{
					run.ID.String(), string(run.Status), strconv.Itoa(run.Total), strconv.Itoa(run.Created),
					strconv.Itoa(run.Updated), strconv.Itoa(run.Unchanged), strconv.Itoa(run.Skipped),
					strconv.Itoa(run.Pushed), strconv.Itoa(run.Failed), strconv.FormatInt(run.DurationMs, 10),
				}},
			)
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Direction, "direction", "", "INBOUND or OUTBOUND, defaults to INBOUND")
	f.StringSliceVar(&req.Kinds, "kind", nil, "record kinds to sync, defaults to all supported")
	f.DurationVar(&since, "since", 0, "only fetch records changed within this window")
	return cmd
}

func (a *app) integrationsSyncAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-all",
		Short: "Sync every connected integration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			res, err := a.client.SyncAll(ctx)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(res.Results))
			for _, r := range res.Results {
				status := "ok"
				if !r.Success {
					status = "failed"
				}
				rows = append(rows, []string{r.IntegrationID.String(), r.Name, string(r.Type), status, orDash(r.Error)})
			}
			if err := a.print(res, []string{"ID", "NAME", "TYPE", "RESULT", "ERROR"}, rows); err != nil {
				return err
			}
			if a.output == "table" {
				fmt.Fprintf(a.out, "\n%d succeeded, %d failed\n", res.Succeeded, res.Failed)
			}
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// Notifications
// ---------------------------------------------------------------------------

func (a *app) notificationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notif"},
		Short:   "Read the notification feed",
	}

	var opts apiclient.NotificationListOptions
	list := &cobra.Command{
		Use:   "list",
		Short: "List notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Category = strings.ToUpper(opts.Category)
			ctx, cancel := a.context(cmd)
			defer cancel()
			items, _, err := a.client.ListNotifications(ctx, opts)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(items))
			for _, n := range items {
				mark := " "
				if !n.Read {
					mark = "*"
				}
				rows = append(rows, []string{mark, n.ID.String(), string(n.Level), string(n.Category), n.Title, formatTime(&n.CreatedAt)})
			}
			return a.print(items, []string{"", "ID", "LEVEL", "CATEGORY", "TITLE", "CREATED"}, rows)
		},
	}
	addListFlags(list, &opts.ListOptions)
	list.Flags().BoolVar(&opts.UnreadOnly, "unread", false, "only unread notifications")
	list.Flags().StringVar(&opts.Category, "category", "", "INTEGRATION, KYC, ONBOARDING or SYSTEM")

	read := &cobra.Command{
		Use:   "read <id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			n, err := a.client.MarkNotificationRead(ctx, id)
			if err != nil {
				return err
			}
			return a.print(n, []string{"ID", "TITLE", "READ AT"}, [][]string{{n.ID.String(), n.Title, formatTime(n.ReadAt)}})
		},
	}

	cmd.AddCommand(list, read)
	return cmd
}

// ---------------------------------------------------------------------------
// KYC
// ---------------------------------------------------------------------------

func (a *app) kycCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kyc",
		Short: "Show or submit the tenant's KYC application",
	}
	show := func(cmd *cobra.Command, fetch func(*apiclient.Client, context.Context) (*appkyc.ApplicationResponse, error)) error {
		ctx, cancel := a.context(cmd)
		defer cancel()
		kyc, err := fetch(a.client, ctx)
		if err != nil {
			return err
		}
		missing := make([]string, 0, len(kyc.MissingDocuments))
		for _, d := range kyc.MissingDocuments {
			missing = append(missing, string(d))
		}
		return a.print(kyc,
			[]string{"STATUS", "BUSINESS", "DOCUMENTS", "MISSING", "SUBMITTED"},
			[][]string{{
				string(kyc.Status), orDash(kyc.Details.BusinessName), strconv.Itoa(len(kyc.Documents)),
				orDash(strings.Join(missing, ",")), formatTime(kyc.SubmittedAt),
			}},
		)
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Show the application",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return show(cmd, (*apiclient.Client).GetKYC)
			},
		},
		&cobra.Command{
			Use:   "submit",
			Short: "Submit the application for review",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return show(cmd, (*apiclient.Client).SubmitKYC)
			},
		},
	)
	return cmd
}

// ---------------------------------------------------------------------------
// Onboarding
// ---------------------------------------------------------------------------

func (a *app) onboardingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "onboarding",
		Short: "Follow the onboarding checklist",
	}
	show := func(p *apponboarding.ProgressResponse) error {
		rows := make([][]string, 0, len(p.Steps))
		for i, s := range p.Steps {
			state := "todo"
			switch {
			case s.Completed:
				state = "done"
			case s.Skipped:
				state = "skipped"
			case i == p.CurrentStep:
				state = "current"
			}
			rows = append(rows, []string{strconv.Itoa(i), s.Key, s.Title, state})
		}
		if err := a.print(p, []string{"#", "KEY", "STEP", "STATE"}, rows); err != nil {
			return err
		}
		if a.output == "table" {
			fmt.Fprintf(a.out, "\n%d%% complete\n", p.Percent)
		}
		return nil
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Show progress",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := a.context(cmd)
				defer cancel()
				p, err := a.client.GetOnboarding(ctx)
				if err != nil {
					return err
				}
				return show(p)
			},
		},
		&cobra.Command{
			Use:   "complete <step-key>",
			Short: "Mark a step done",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := a.context(cmd)
				defer cancel()
				p, err := a.client.CompleteOnboardingStep(ctx, args[0])
				if err != nil {
					return err
				}
				return show(p)
			},
		},
	)
	return cmd
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func addListFlags(cmd *cobra.Command, opts *apiclient.ListOptions) {
	f := cmd.Flags()
	f.IntVar(&opts.Page, "page", 0, "page number")
	f.IntVar(&opts.PageSize, "page-size", 0, "items per page")
	f.StringVar(&opts.Search, "search", "", "free text filter")
	f.StringVar(&opts.OrderBy, "order-by", "", "sort field")
	f.StringVar(&opts.OrderDir, "order-dir", "", "asc or desc")
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}

// parsePairs turns key=value arguments into a map
func parsePairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", p)
		}
		out[k] = v
	}
	return out, nil
}
