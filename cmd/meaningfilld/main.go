package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/meaningfill/class-sub000/internal/config"
	"github.com/meaningfill/class-sub000/pkg/logger"
)

// main 是 MeaningFill 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "meaningfilld 运行失败: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "meaningfilld",
		Short:         "MeaningFill concierge: RAG 咨询助手与营销团队编排",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		fmt.Sprintf("配置文件路径（默认读取 $%s 或 %s）", config.EnvPath, config.DefaultPath))

	load := func() (*config.Config, error) {
		path := configPath
		if path == "" {
			path = config.Path()
		}
		cfg, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		if err := logger.Init(cfg.Logging); err != nil {
			return nil, fmt.Errorf("初始化日志失败: %w", err)
		}
		return cfg, nil
	}

	root.AddCommand(
		newServeCmd(load),
		newTeamCmd(load),
		newMigrateCmd(load),
		newChatCmd(),
	)
	return root
}

type configLoader func() (*config.Config, error)
