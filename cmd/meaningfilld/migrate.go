package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/meaningfill/class-sub000/internal/catalog"
	"github.com/meaningfill/class-sub000/internal/config"
	"github.com/meaningfill/class-sub000/internal/knowledge"
	"github.com/meaningfill/class-sub000/internal/storage/elastic"
	"github.com/meaningfill/class-sub000/internal/storage/sqlstore"
)

func newMigrateCmd(load configLoader) *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "执行 SQL 迁移，可选地把种子文件写入持久化存储",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runMigrate(cmd.Context(), cmd.OutOrStdout(), cfg, seed)
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "将知识库与目录种子文件写入 SQL 或 Elasticsearch")
	return cmd
}

func runMigrate(ctx context.Context, out io.Writer, cfg *config.Config, seed bool) error {
	var db *sqlstore.DB
	if cfg.UsesSQL() {
		sqlCfg := cfg.Storage.SQL
		sqlCfg.SkipMigrations = true
		opened, err := sqlstore.Open(ctx, sqlCfg)
		if err != nil {
			return err
		}
		defer opened.Close()
		db = opened

		versions, err := db.MigrateVersions(ctx)
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			fmt.Fprintf(out, "数据库已是最新版本 (%s)\n", db.Dialect())
		}
		for _, version := range versions {
			fmt.Fprintf(out, "已应用迁移 %s (%s)\n", version, db.Dialect())
		}
	}
	if !seed {
		return nil
	}
	return seedStores(ctx, out, cfg, db)
}

// seedStores 只写入非内存驱动，内存驱动在启动时直接读取种子文件。
func seedStores(ctx context.Context, out io.Writer, cfg *config.Config, db *sqlstore.DB) error {
	if cfg.Knowledge.SeedFile != "" && cfg.Knowledge.Driver != config.DriverMemory {
		records, err := knowledge.LoadFile(cfg.Knowledge.SeedFile)
		if err != nil {
			return err
		}
		switch cfg.Knowledge.Driver {
		case config.DriverSQL:
			err = sqlstore.NewKnowledgeStore(db).Insert(ctx, records...)
		case config.DriverElasticsearch:
			var store *elastic.KnowledgeStore
			store, err = elastic.NewKnowledgeStore(cfg.Knowledge.Elasticsearch)
			if err == nil {
				err = store.Index(ctx, records...)
			}
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "已写入知识条目 %d 条 (%s)\n", len(records), cfg.Knowledge.Driver)
	}

	if cfg.Catalog.SeedFile != "" && cfg.Catalog.Driver == config.DriverSQL {
		items, err := catalog.LoadFile(cfg.Catalog.SeedFile)
		if err != nil {
			return err
		}
		if err := sqlstore.NewCatalogStore(db).Insert(ctx, items...); err != nil {
			return err
		}
		fmt.Fprintf(out, "已写入目录条目 %d 条\n", len(items))
	}
	return nil
}
