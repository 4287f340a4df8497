package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"deckard/internal/guard"
	"deckard/internal/query"
	"deckard/internal/resource"
	"deckard/internal/watcher"
	"deckard/internal/workflow"

	"github.com/spf13/cobra"
)

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Recompile the logic program from current card state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()
		return a.engine.Generate(cmd.Context())
	},
}

var queryCmd = &cobra.Command{
	Use:   "query {tree|card} [KEY]",
	Short: "Run a named query and print typed results",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.engine.Generate(cmd.Context()); err != nil {
			return err
		}

		params := query.Params{}
		if len(args) > 1 {
			params.CardKey = args[1]
		}

		switch query.Name(args[0]) {
		case query.QueryTree:
			results, err := a.engine.Tree(cmd.Context(), params)
			if err != nil {
				return err
			}
			return printJSON(results)
		case query.QueryCard:
			results, err := a.engine.Card(cmd.Context(), params)
			if err != nil {
				return err
			}
			if params.CardKey != "" && len(results) == 0 {
				return fmt.Errorf("card %s not found", params.CardKey)
			}
			return printJSON(results)
		default:
			return fmt.Errorf("unknown query %q (expected tree or card)", args[0])
		}
	},
}

var transitionCmd = &cobra.Command{
	Use:   "transition KEY NAME",
	Short: "Move a card through a workflow transition",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		key, name := args[0], args[1]
		if err := a.guard.CheckPermission(cmd.Context(), guard.ActionTransition, key, name); err != nil {
			return permissionFriendly(err)
		}
		if err := a.flow.CardTransition(cmd.Context(), key, name); err != nil {
			return transitionFriendly(err)
		}
		fmt.Printf("card %s transitioned via %s\n", key, name)
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check ACTION KEY [PARAM]",
	Short: "Check whether an action is currently permitted on a card",
	Long: `Checks one of: transition, move, delete, editField, editContent.
transition and editField take a PARAM (the transition or field name).`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		param := ""
		if len(args) > 2 {
			param = args[2]
		}
		err = a.guard.CheckPermission(cmd.Context(), guard.Action(args[0]), args[1], param)
		var denied *guard.PermissionError
		if errors.As(err, &denied) {
			fmt.Printf("denied: %s\n", denied.Error())
			os.Exit(2)
		}
		if err != nil {
			return err
		}
		fmt.Println("permitted")
		return nil
	},
}

var createCmd = &cobra.Command{
	Use:   "create --type TYPE --title TITLE [--parent KEY]",
	Short: "Create a card",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		cardType, _ := cmd.Flags().GetString("type")
		title, _ := cmd.Flags().GetString("title")
		parent, _ := cmd.Flags().GetString("parent")

		key, err := a.store.CreateCard(&resource.Card{
			Title:    title,
			CardType: cardType,
			Parent:   parent,
		})
		if err != nil {
			return err
		}
		a.engine.HandleCardChanged(key)
		fmt.Println(key)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove KEY",
	Short: "Delete a card and its children",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		key := args[0]
		if err := a.guard.CheckPermission(cmd.Context(), guard.ActionDelete, key, ""); err != nil {
			return permissionFriendly(err)
		}
		if err := a.store.DeleteCard(key); err != nil {
			return err
		}
		a.engine.HandleCardChanged(key)
		return nil
	},
}

var moveCmd = &cobra.Command{
	Use:   "move KEY [NEW_PARENT]",
	Short: "Reparent a card (omit NEW_PARENT to make it a root)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		key := args[0]
		newParent := ""
		if len(args) > 1 {
			newParent = args[1]
		}
		rank, _ := cmd.Flags().GetString("rank")

		if err := a.guard.CheckPermission(cmd.Context(), guard.ActionMove, key, ""); err != nil {
			return permissionFriendly(err)
		}
		if err := a.store.MoveCard(key, newParent, rank); err != nil {
			return err
		}
		a.engine.HandleCardChanged(key)
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit KEY FIELD VALUE",
	Short: "Set a custom field value on a card",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		key, field, value := args[0], args[1], args[2]
		if err := a.guard.CheckPermission(cmd.Context(), guard.ActionEditField, key, field); err != nil {
			return permissionFriendly(err)
		}
		if err := a.store.UpdateField(key, field, value); err != nil {
			return err
		}
		a.engine.HandleCardChanged(key)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show {tree|card} [KEY]",
	Short: "Print the assembled logic program for a query",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.engine.Generate(cmd.Context()); err != nil {
			return err
		}
		params := query.Params{}
		if len(args) > 1 {
			params.CardKey = args[1]
		}
		text, err := a.engine.Program(query.Name(args[0]), params)
		if err != nil {
			return err
		}
		fmt.Print(text)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch card files and recompute on external edits",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()
		if a.file == nil {
			return fmt.Errorf("watch requires the yaml store backend")
		}
		if err := a.engine.Generate(cmd.Context()); err != nil {
			return err
		}

		w, err := watcher.New(a.file.Dir(), func(key string) {
			if err := a.file.ReloadCard(key); err != nil {
				fmt.Fprintln(os.Stderr, "reload:", err)
				return
			}
			a.engine.HandleCardChanged(key)
		})
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		fmt.Println("watching; ctrl-c to stop")
		<-sig
		return nil
	},
}

func init() {
	createCmd.Flags().String("type", "", "card type name")
	createCmd.Flags().String("title", "", "card title")
	createCmd.Flags().String("parent", "", "parent card key")
	_ = createCmd.MarkFlagRequired("type")
	_ = createCmd.MarkFlagRequired("title")
	moveCmd.Flags().String("rank", "", "new sibling rank")
}

// permissionFriendly keeps denial output readable while preserving
// other errors as-is.
func permissionFriendly(err error) error {
	var denied *guard.PermissionError
	if errors.As(err, &denied) {
		return fmt.Errorf("not permitted: %s", denied.Error())
	}
	return err
}

// transitionFriendly distinguishes corrupt-project failures from user
// input errors in the exit message.
func transitionFriendly(err error) error {
	if errors.Is(err, workflow.ErrCorrupt) {
		return fmt.Errorf("internal error: %w", err)
	}
	return err
}
