package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/koscakluka/ema-coach/core/backend"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd, scenariosCmd, conversationsCmd)
	conversationsCmd.AddCommand(conversationsListCmd, conversationsNewCmd, conversationsShowCmd)
	conversationsNewCmd.Flags().StringVar(&flagScenario, "scenario", "", "scenario id")
	conversationsNewCmd.Flags().StringVar(&flagUserID, "user", "", "user id")
	conversationsListCmd.Flags().StringVar(&flagUserID, "user", "", "user id whose conversations are listed")
	_ = conversationsListCmd.MarkFlagRequired("user")
}

var loginCmd = &cobra.Command{
	Use:   "login <token>",
	Short: "Store the backend token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := newCredentials(cfg)
		if err != nil {
			return err
		}
		if err := store.SetToken(cmd.Context(), strings.TrimSpace(args[0])); err != nil {
			return fmt.Errorf("store token: %w", err)
		}
		fmt.Println("Token stored.")
		return nil
	},
}

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "List practice scenarios",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newBackend(cfg)
		if err != nil {
			return err
		}
		scenarios, err := client.ListScenarios(cmd.Context())
		if err != nil {
			return fmt.Errorf("list scenarios: %w", err)
		}
		if len(scenarios) == 0 {
			fmt.Println("No scenarios found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tDESCRIPTION")
		for _, s := range scenarios {
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.Title, s.Description)
		}
		return w.Flush()
	},
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Manage coach conversations",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the conversations of a user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newBackend(cfg)
		if err != nil {
			return err
		}
		conversations, err := client.ListConversations(cmd.Context(), flagUserID)
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}
		if len(conversations) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSCENARIO\tCREATED")
		for _, c := range conversations {
			fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, c.ScenarioID, c.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var conversationsNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Start a new conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newBackend(cfg)
		if err != nil {
			return err
		}
		conversation, err := client.CreateConversation(cmd.Context(), backend.ConversationCreate{
			UserID:     flagUserID,
			ScenarioID: flagScenario,
		})
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		fmt.Println(conversation.ID)
		return nil
	},
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Print the messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newBackend(cfg)
		if err != nil {
			return err
		}
		messages, err := client.ListMessages(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("list messages: %w", err)
		}
		for _, m := range messages {
			fmt.Printf("[%s] %s: %s\n", m.SentAt.Format("15:04"), m.Source, m.Content)
		}
		return nil
	},
}
