package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd(f *apiFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server and installation state",
		RunE: func(*cobra.Command, []string) error {
			var out map[string]any
			if err := newAPIClient(f).get("/status", &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func newVersionsCmd(f *apiFlags) *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List installable server versions",
		RunE: func(*cobra.Command, []string) error {
			var out map[string]any
			if err := newAPIClient(f).get("/versions?channel="+url.QueryEscape(channel), &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "stable", "release channel (stable or unstable)")
	return cmd
}

func newInstallCmd(f *apiFlags) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "install <version|stable|unstable>",
		Short: "Install a server version (or the newest release of a channel)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient(f)
			var out map[string]any
			if err := c.post("/install", map[string]string{"version": args[0]}, &out); err != nil {
				return err
			}
			if !wait {
				printJSON(out)
				return nil
			}
			return waitForInstall(cmd, c)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the installation finishes")
	return cmd
}

func waitForInstall(cmd *cobra.Command, c *apiClient) error {
	for {
		var p struct {
			State     string `json:"state"`
			Stage     string `json:"stage"`
			Pct       *int   `json:"percentage"`
			Error     string `json:"error"`
			ErrorCode string `json:"error_code"`
			Version   string `json:"version"`
		}
		if err := c.get("/install/progress", &p); err != nil {
			return err
		}
		switch p.State {
		case "installed":
			fmt.Printf("installed %s\n", p.Version)
			return nil
		case "error":
			return fmt.Errorf("%s (%s)", p.Error, p.ErrorCode)
		case "installing":
			if p.Pct != nil {
				fmt.Printf("%s %d%%\n", p.Stage, *p.Pct)
			} else if p.Stage != "" {
				fmt.Println(p.Stage)
			}
		}
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-time.After(time.Second):
		}
	}
}

func newUninstallCmd(f *apiFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the installed server (data and mods are kept)",
		RunE: func(*cobra.Command, []string) error {
			return newAPIClient(f).do("DELETE", "/install", nil, nil)
		},
	}
}

func newStartCmd(f *apiFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the server",
		RunE: func(*cobra.Command, []string) error {
			return newAPIClient(f).post("/server/start", nil, nil)
		},
	}
}

func newStopCmd(f *apiFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the server gracefully",
		RunE: func(*cobra.Command, []string) error {
			return newAPIClient(f).post("/server/stop", nil, nil)
		},
	}
}

func newRestartCmd(f *apiFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the server",
		RunE: func(*cobra.Command, []string) error {
			return newAPIClient(f).post("/server/restart", nil, nil)
		},
	}
}

func newCommandCmd(f *apiFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "command <text...>",
		Short: "Send a console command to the running server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return newAPIClient(f).post("/server/command",
				map[string]string{"command": strings.Join(args, " ")}, nil)
		},
	}
}

func newConsoleCmd(f *apiFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Print recent console output",
		RunE: func(*cobra.Command, []string) error {
			var out struct {
				Lines []string `json:"lines"`
			}
			if err := newAPIClient(f).get("/console?"+queryInt("limit", limit), &out); err != nil {
				return err
			}
			for _, line := range out.Lines {
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "number of lines, 0 for the whole buffer")
	return cmd
}

func newEventsCmd(f *apiFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the lifecycle event history",
		RunE: func(*cobra.Command, []string) error {
			var out map[string]any
			if err := newAPIClient(f).get("/events?"+queryInt("limit", limit), &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of events")
	return cmd
}

func newLoginCmd(f *apiFlags) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain a bearer token from an auth-enabled daemon",
		RunE: func(*cobra.Command, []string) error {
			var out struct {
				Token string `json:"token"`
			}
			err := newAPIClient(f).post("/auth/login",
				map[string]string{"username": username, "password": password}, &out)
			if err != nil {
				return err
			}
			fmt.Println(out.Token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "operator username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "operator password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newModsCmd(f *apiFlags) *cobra.Command {
	mods := &cobra.Command{
		Use:   "mods",
		Short: "Manage server mods",
	}

	var query, sortBy string
	var page, pageSize int
	search := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the mod catalog",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) == 1 {
				query = args[0]
			}
			path := fmt.Sprintf("/mods/catalog?query=%s&sort=%s&%s&%s",
				url.QueryEscape(query), url.QueryEscape(sortBy),
				queryInt("page", page), queryInt("page_size", pageSize))
			var out map[string]any
			if err := newAPIClient(f).get(path, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	search.Flags().StringVar(&sortBy, "sort", "downloads", "sort order: downloads, follows, name, recent")
	search.Flags().IntVar(&page, "page", 1, "result page")
	search.Flags().IntVar(&pageSize, "page-size", 25, "results per page")

	list := &cobra.Command{
		Use:   "list",
		Short: "List installed mods",
		RunE: func(*cobra.Command, []string) error {
			var out map[string]any
			if err := newAPIClient(f).get("/mods", &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}

	var version string
	install := &cobra.Command{
		Use:   "install <id>",
		Short: "Download and install a mod from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var out map[string]any
			err := newAPIClient(f).post("/mods",
				map[string]string{"id": args[0], "version": version}, &out)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	install.Flags().StringVar(&version, "version", "", "mod version (default: newest)")

	remove := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an installed mod",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return newAPIClient(f).do("DELETE", "/mods/"+url.PathEscape(args[0]), nil, nil)
		},
	}
	enable := &cobra.Command{
		Use:   "enable <id>",
		Short: "Enable a disabled mod",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return newAPIClient(f).post("/mods/"+url.PathEscape(args[0])+"/enable", nil, nil)
		},
	}
	disable := &cobra.Command{
		Use:   "disable <id>",
		Short: "Disable a mod without deleting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return newAPIClient(f).post("/mods/"+url.PathEscape(args[0])+"/disable", nil, nil)
		},
	}

	mods.AddCommand(search, list, install, remove, enable, disable)
	return mods
}
