package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/hellojohn-identity/internal/accountlinking"
	"github.com/dropDatabas3/hellojohn-identity/internal/app"
	"github.com/dropDatabas3/hellojohn-identity/internal/bulkimport"
	"github.com/dropDatabas3/hellojohn-identity/internal/config"
	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
	dtolink "github.com/dropDatabas3/hellojohn-identity/internal/http/dto/accountlinking"
	dtobulk "github.com/dropDatabas3/hellojohn-identity/internal/http/dto/bulkimport"
	"github.com/dropDatabas3/hellojohn-identity/internal/observability/logger"
)

// cli mantiene el estado compartido por los subcomandos. app se arma en
// PersistentPreRunE salvo que ya venga seteada (tests).
type cli struct {
	out        io.Writer
	configPath string
	appID      string
	app        *app.App
}

func (c *cli) init() error {
	if c.app != nil {
		return nil
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "identityctl"})
	if _, ok := cfg.AppByID(c.appID); !ok {
		return fmt.Errorf("app %q no está configurada", c.appID)
	}
	c.app, err = app.New(cfg, app.Deps{})
	return err
}

func (c *cli) storage(ctx context.Context) (repository.Storage, error) {
	return c.app.StorageFor(ctx, c.appID)
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printLinking imprime los errores de linking con status propio como
// respuesta, igual que la API HTTP.
func (c *cli) printLinking(err error) error {
	var e *accountlinking.Error
	if errors.As(err, &e) && e.Kind.Status() != "" {
		return c.print(dtolink.StatusResponse{
			Status:        e.Kind.Status(),
			PrimaryUserID: e.PrimaryUserID,
			Description:   e.Description(),
		})
	}
	return err
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "identityctl",
		Short:         "Operaciones de account linking y bulk import sobre el storage",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			_ = logger.Sync()
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", os.Getenv("IDENTITY_CONFIG"), "ruta al config YAML (env IDENTITY_CONFIG)")
	root.PersistentFlags().StringVar(&c.appID, "app", "public", "app sobre la que operar")

	root.AddCommand(
		migrateCmd(c),
		primaryCmd(c),
		linkCmd(c),
		unlinkCmd(c),
		deleteCmd(c),
		bulkCmd(c),
	)
	return root
}

func migrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones en todos los user pools",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.app.Migrate(cmd.Context())
			out := make(map[string]any, len(res))
			for pool, r := range res {
				if r != nil {
					out[pool] = map[string]any{"applied": r.Applied, "skipped": len(r.Skipped), "duration": r.Duration.String()}
				}
			}
			if perr := c.print(out); perr != nil && err == nil {
				err = perr
			}
			return err
		},
	}
}

func primaryCmd(c *cli) *cobra.Command {
	var recipeUserID string
	var check bool
	cmd := &cobra.Command{
		Use:   "primary",
		Short: "Convierte un recipe user en primary user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := c.storage(ctx)
			if err != nil {
				return err
			}
			if check {
				res, err := c.app.Linker.CanCreatePrimaryUser(ctx, c.appID, s, recipeUserID)
				if err != nil {
					return c.printLinking(err)
				}
				return c.print(dtolink.CanCreatePrimaryResponse{Status: dtolink.StatusOK, WasAlreadyAPrimaryUser: res.WasAlreadyPrimary})
			}
			res, err := c.app.Linker.CreatePrimaryUser(ctx, c.appID, s, recipeUserID)
			if err != nil {
				return c.printLinking(err)
			}
			return c.print(dtolink.CreatePrimaryResponse{
				Status:                 dtolink.StatusOK,
				User:                   dtolink.FromUser(res.User),
				WasAlreadyAPrimaryUser: res.WasAlreadyPrimary,
			})
		},
	}
	cmd.Flags().StringVar(&recipeUserID, "recipe-user", "", "recipe user id")
	cmd.Flags().BoolVar(&check, "check", false, "solo verifica, no modifica")
	_ = cmd.MarkFlagRequired("recipe-user")
	return cmd
}

func linkCmd(c *cli) *cobra.Command {
	var recipeUserID, primaryUserID string
	var check bool
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Vincula un recipe user a un primary user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := c.storage(ctx)
			if err != nil {
				return err
			}
			if check {
				res, err := c.app.Linker.CanLinkAccounts(ctx, c.appID, s, recipeUserID, primaryUserID)
				if err != nil {
					return c.printLinking(err)
				}
				return c.print(dtolink.CanLinkResponse{Status: dtolink.StatusOK, AccountsAlreadyLinked: res.WasAlreadyLinked})
			}
			res, err := c.app.Linker.LinkAccounts(ctx, c.appID, s, recipeUserID, primaryUserID)
			if err != nil {
				return c.printLinking(err)
			}
			return c.print(dtolink.LinkResponse{
				Status:                dtolink.StatusOK,
				AccountsAlreadyLinked: res.WasAlreadyLinked,
				User:                  dtolink.FromUser(res.User),
			})
		},
	}
	cmd.Flags().StringVar(&recipeUserID, "recipe-user", "", "recipe user id")
	cmd.Flags().StringVar(&primaryUserID, "primary-user", "", "primary user id")
	cmd.Flags().BoolVar(&check, "check", false, "solo verifica, no modifica")
	_ = cmd.MarkFlagRequired("recipe-user")
	_ = cmd.MarkFlagRequired("primary-user")
	return cmd
}

func unlinkCmd(c *cli) *cobra.Command {
	var recipeUserID string
	cmd := &cobra.Command{
		Use:   "unlink",
		Short: "Separa un recipe user de su grupo",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := c.storage(ctx)
			if err != nil {
				return err
			}
			res, err := c.app.Linker.UnlinkAccounts(ctx, c.appID, s, recipeUserID)
			if err != nil {
				return c.printLinking(err)
			}
			return c.print(dtolink.UnlinkResponse{
				Status:               dtolink.StatusOK,
				WasRecipeUserDeleted: res.WasRecipeUserDeleted,
				WasLinked:            res.WasLinked,
			})
		},
	}
	cmd.Flags().StringVar(&recipeUserID, "recipe-user", "", "recipe user id")
	_ = cmd.MarkFlagRequired("recipe-user")
	return cmd
}

func deleteCmd(c *cli) *cobra.Command {
	var userID string
	var keepLinked bool
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Borra un usuario (por defecto con todo su grupo)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := c.storage(ctx)
			if err != nil {
				return err
			}
			if err := c.app.Linker.DeleteUser(ctx, c.appID, s, userID, !keepLinked); err != nil {
				return err
			}
			return c.print(dtolink.RemoveUserResponse{Status: dtolink.StatusOK})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (recipe, primary o external)")
	cmd.Flags().BoolVar(&keepLinked, "keep-linked", false, "borra solo este recipe user y deja el resto del grupo")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func bulkCmd(c *cli) *cobra.Command {
	bulk := &cobra.Command{Use: "bulk", Short: "Bulk import de usuarios"}

	var file string
	add := &cobra.Command{
		Use:   "add",
		Short: "Encola usuarios desde un archivo JSON ({\"users\": [...]})",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(file)
			if err != nil {
				return err
			}
			var req dtobulk.AddUsersRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				return fmt.Errorf("archivo inválido: %w", err)
			}

			ctx := cmd.Context()
			s, err := c.storage(ctx)
			if err != nil {
				return err
			}
			ids, err := c.app.Entries.AddUsers(ctx, c.appID, s, req.Users)
			var invalid *bulkimport.InvalidDataError
			if errors.As(err, &invalid) {
				_ = c.print(map[string]any{"error": invalid.Error(), "users": invalid.Users})
				return errors.New("bulk add: datos inválidos")
			}
			if err != nil {
				return err
			}
			return c.print(dtobulk.AddUsersResponse{Status: "OK", IDs: ids})
		},
	}
	add.Flags().StringVarP(&file, "file", "f", "-", "archivo JSON o - para stdin")

	process := &cobra.Command{
		Use:   "process",
		Short: "Procesa un lote de entradas NEW",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := c.storage(ctx)
			if err != nil {
				return err
			}
			res, err := c.app.Processor.ProcessBatch(ctx, c.appID, s)
			if err != nil {
				return err
			}
			return c.print(map[string]int{"imported": res.Imported, "failed": res.Failed, "recovered": res.Recovered})
		},
	}

	var status string
	count := &cobra.Command{
		Use:   "count",
		Short: "Cuenta entradas por estado",
		RunE: func(cmd *cobra.Command, args []string) error {
			var st *repository.BulkImportStatus
			if status != "" {
				if err := bulkimport.ValidateStatus(status); err != nil {
					return err
				}
				v := repository.BulkImportStatus(status)
				st = &v
			}
			ctx := cmd.Context()
			s, err := c.storage(ctx)
			if err != nil {
				return err
			}
			n, err := c.app.Entries.Count(ctx, c.appID, s, st)
			if err != nil {
				return err
			}
			return c.print(dtobulk.CountResponse{Status: "OK", Count: n})
		},
	}
	count.Flags().StringVar(&status, "status", "", "NEW|PROCESSING|FAILED")

	bulk.AddCommand(add, process, count)
	return bulk
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
