// Package cli 实现 eagent 命令行：执行任务、审批、知识问答、会话笔记与场景评测。
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"OpenEA-Agent/internal/app"
	"OpenEA-Agent/internal/config"
	"OpenEA-Agent/pkg/logger"
)

// DefaultConfigPath 是未指定 --config 且未设置 $EAGENT_CONFIG 时使用的配置路径。
var DefaultConfigPath = filepath.Join("configs", "eagent.json")

type options struct {
	configPath string
	format     string
	user       string
}

// NewRootCommand 构建命令树，输出写入命令配置的 writer。
func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "eagent",
		Short:         "Executive assistant agent",
		Long:          "Plan and run assistant tasks, review approvals, ask the policy knowledge base and manage session notes.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config path (default: $EAGENT_CONFIG or configs/eagent.json)")
	root.PersistentFlags().StringVarP(&opts.format, "format", "f", "text", "Output format: text or json")
	root.PersistentFlags().StringVarP(&opts.user, "user", "u", "demo-user", "User the command acts for")

	root.AddCommand(
		newRunCommand(opts),
		newAskCommand(opts),
		newApprovalsCommand(opts),
		newNotesCommand(opts),
		newSessionCommand(opts),
		newPostCommand(opts),
		newEvalCommand(opts),
	)
	return root
}

// Execute 使用 os.Args 运行命令行。
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	return nil
}

func (o *options) resolveConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	if env := os.Getenv("EAGENT_CONFIG"); env != "" {
		return env
	}
	return DefaultConfigPath
}

// loadConfig 在默认配置文件不存在时使用内置默认值，显式指定的文件必须存在。
func (o *options) loadConfig() (*config.Config, error) {
	path := o.resolveConfigPath()
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if o.configPath == "" && os.Getenv("EAGENT_CONFIG") == "" && errors.Is(err, fs.ErrNotExist) {
		return config.Default("."), nil
	}
	return nil, err
}

// withApp 构建不含异步任务管道的应用，fn 返回后关闭。
func (o *options) withApp(cmd *cobra.Command, fn func(a *app.App) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	logCfg := cfg.Logging
	if len(logCfg.OutputPaths) == 0 {
		logCfg.OutputPaths = []string{"stderr"}
	}
	if logCfg.Level == "" {
		logCfg.Level = "warn"
	}
	if err := logger.Init(logCfg); err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.Build(cmd.Context(), cfg, app.WithoutTaskPipeline())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func (o *options) jsonOutput() bool {
	return o.format == "json"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
