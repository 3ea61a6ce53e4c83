// Package cli wires the lanlink command set (cobra) and an interactive
// shell on top of the connection manager and discovery.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

type CLI struct {
	appCtx *AppContext
	out    io.Writer
}

func NewCLI(appCtx *AppContext, out io.Writer) *CLI {
	return &CLI{appCtx: appCtx, out: out}
}

// NewRootCommand собирает дерево команд заново: значения флагов cobra
// живут в переменных команды и иначе переходили бы между вызовами.
func (c *CLI) NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "lanlink",
		Short:         "CLI для обмена сообщениями и файлами в локальной сети",
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "Введите команду, help - список команд.")
		},
	}

	rootCmd.AddCommand(
		createConnectCommand(c.appCtx),
		createSendCommand(c.appCtx),
		createSendFileCommand(c.appCtx),
		createListPeersCommand(c.appCtx),
		createSegmentCommand(c.appCtx),
		createConnectionsCommand(c.appCtx),
		createPresenceCommand(c.appCtx),
		createJoinCommand(c.appCtx),
		createLeaveCommand(c.appCtx),
		createCompletionCommand(rootCmd),
	)
	rootCmd.ValidArgsFunction = func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return getMatchingCommands(rootCmd, toComplete), cobra.ShellCompDirectiveNoFileComp
	}

	rootCmd.SetOut(c.out)
	rootCmd.SetErr(c.out)
	return rootCmd
}

// Execute выполняет одну команду
func (c *CLI) Execute(args []string) error {
	rootCmd := c.NewRootCommand()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func createCompletionCommand(rootCmd *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:       "completion [bash|zsh|fish|powershell]",
		Short:     "Генерирует скрипт автодополнения",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			shell := "bash"
			if len(args) == 1 {
				shell = args[0]
			}
			switch shell {
			case "bash":
				return rootCmd.GenBashCompletion(cmd.OutOrStdout())
			case "zsh":
				return rootCmd.GenZshCompletion(cmd.OutOrStdout())
			case "fish":
				return rootCmd.GenFishCompletion(cmd.OutOrStdout(), true)
			case "powershell":
				return rootCmd.GenPowerShellCompletion(cmd.OutOrStdout())
			default:
				return fmt.Errorf("unsupported shell: %s", shell)
			}
		},
	}
}
