// Command sitesync 是运维用的命令行工具：手动同步站点、查看模板树和签发开发用 token。
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"content-system-go/internal/app"
	"content-system-go/internal/config"
	"content-system-go/pkg/log"
	"content-system-go/pkg/token"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type cliOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:           "sitesync",
		Short:         "Synchronise website template trees with the content database",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath(), "path to config.yaml")

	root.AddCommand(
		newTreeCmd(opts),
		newFetchCmd(opts),
		newJiraSyncCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

func defaultConfigPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return "./configs/config.yaml"
}

func (o *cliOptions) load() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, err
	}
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	return cfg, nil
}

// withApp 组装 App，执行 fn 后关闭所有连接。
func (o *cliOptions) withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, err := o.load()
	if err != nil {
		return err
	}
	defer log.Sync()
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(cfg.Sync.ShutdownTimeout); err != nil {
			log.Warnf("关闭失败: %v", err)
		}
	}()
	return fn(a)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTreeCmd(opts *cliOptions) *cobra.Command {
	var fromDB bool
	cmd := &cobra.Command{
		Use:   "tree <site>",
		Short: "Rebuild a site's template tree and print it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				site := a.Sites.For(args[0])
				if fromDB {
					return writeJSON(cmd.OutOrStdout(), site.GetTreeSync(cmd.Context(), true))
				}
				tree, err := site.GetTree(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), tree)
			})
		},
	}
	cmd.Flags().BoolVar(&fromDB, "from-db", false, "read the tree from the database instead of rebuilding it")
	return cmd
}

func newFetchCmd(opts *cliOptions) *cobra.Command {
	var branch string
	return &cobra.Command{
		Use:   "fetch <site>",
		Short: "Clone or download a site's repository into the working directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				if branch == "" {
					branch = a.Config.Sync.Branch
				}
				if err := a.Fetcher.Fetch(cmd.Context(), args[0], branch); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), a.Fetcher.RepoPath(args[0]))
				return nil
			})
		},
	}
}

func newJiraSyncCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-jira",
		Short: "Pull the latest status of every Jira task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				changed, err := a.Jira.SyncStatuses(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d task(s) updated\n", changed)
				return nil
			})
		},
	}
}

func newTokenCmd(opts *cliOptions) *cobra.Command {
	var name, role string
	cmd := &cobra.Command{
		Use:   "token <email>",
		Short: "Issue an API access token for local development",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.JWT.Secret == "" {
				return fmt.Errorf("jwt.secret is not configured")
			}
			tok, err := newJWT(cfg).GenerateToken(args[0], name, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name stored in the token")
	cmd.Flags().StringVar(&role, "role", "USER", "role stored in the token")
	return cmd
}

func newJWT(cfg config.Config) *token.JWTManager {
	return token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
}
