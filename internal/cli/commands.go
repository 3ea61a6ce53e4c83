package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	connectionmanager "lanlink/internal/connection_manager"

	"github.com/spf13/cobra"
)

func createConnectCommand(appCtx *AppContext) *cobra.Command {
	var (
		address string
		port    int
	)

	connectCmd := &cobra.Command{
		Use:   "connect",
		Short: "Подключается к узлу по адресу и порту",
		RunE: func(cmd *cobra.Command, args []string) error {
			if address == "" {
				return errors.New("укажите адрес с помощью флага --address")
			}
			if port <= 0 || port > 65535 {
				return fmt.Errorf("некорректный порт: %d", port)
			}

			appCtx.Messenger.Connect(address, port)
			fmt.Fprintf(cmd.OutOrStdout(), "Подключение к %s:%d...\n", address, port)
			return nil
		},
	}

	connectCmd.Flags().StringVarP(&address, "address", "a", "", "Адрес узла")
	connectCmd.Flags().IntVarP(&port, "port", "p", 0, "Порт узла")
	connectCmd.MarkFlagRequired("address")
	connectCmd.MarkFlagRequired("port")

	return connectCmd
}

func createSendCommand(appCtx *AppContext) *cobra.Command {
	var message string

	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "Отправляет текстовое сообщение всем подключенным узлам",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx.Messenger.SendText(message)
			fmt.Fprintf(cmd.OutOrStdout(), "Сообщение отправлено (%d соединений)\n", established(appCtx))
			return nil
		},
	}

	sendCmd.Flags().StringVarP(&message, "message", "m", "", "Сообщение для отправки")
	sendCmd.MarkFlagRequired("message")

	return sendCmd
}

func createSendFileCommand(appCtx *AppContext) *cobra.Command {
	var path string

	sendFileCmd := &cobra.Command{
		Use:   "send-file",
		Short: "Отправляет файл всем подключенным узлам",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appCtx.Messenger.SendFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Файл %s отправлен (%d соединений)\n", path, established(appCtx))
			return nil
		},
	}

	sendFileCmd.Flags().StringVarP(&path, "path", "p", "", "Путь к файлу для отправки")
	sendFileCmd.MarkFlagRequired("path")

	return sendFileCmd
}

func createListPeersCommand(appCtx *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "Отображает список обнаруженных узлов",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()

			peers := appCtx.Discoverer.DiscoveredPeers()
			if len(peers) == 0 {
				fmt.Fprintln(out, "Обнаруженных узлов нет.")
				return
			}
			fmt.Fprintln(out, "Обнаруженные узлы:")
			for _, peer := range peers {
				fmt.Fprintln(out, peer)
			}
		},
	}
}

func createSegmentCommand(appCtx *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "segment [a.b.c.]",
		Short: "Добавляет сегмент сети для опроса или показывает текущие",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				for _, segment := range appCtx.Discoverer.Segments() {
					fmt.Fprintln(out, segment)
				}
				return nil
			}

			prefix := args[0]
			if !ValidSegment(prefix) {
				return fmt.Errorf("некорректный сегмент %q, ожидается вид 192.168.1.", prefix)
			}
			if appCtx.Discoverer.AddSegment(prefix) {
				fmt.Fprintf(out, "Сегмент %s добавлен, идет опрос\n", prefix)
			} else {
				fmt.Fprintf(out, "Сегмент %s уже зарегистрирован\n", prefix)
			}
			return nil
		},
	}
}

func createConnectionsCommand(appCtx *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "connections",
		Short: "Показывает таблицу соединений",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()

			if port := appCtx.Messenger.Port(); port != 0 {
				fmt.Fprintf(out, "Слушаем порт %d\n", port)
			}

			conns := appCtx.Messenger.Connections()
			if len(conns) == 0 {
				fmt.Fprintln(out, "Соединений нет.")
				return
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tADDRESS\tSTATE")
			for _, c := range conns {
				fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, c.Address, c.State)
			}
			w.Flush()
		},
	}
}

func createPresenceCommand(appCtx *AppContext) *cobra.Command {
	var group string

	presenceCmd := &cobra.Command{
		Use:   "presence",
		Short: "Отправляет presence датаграмму в multicast группу",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appCtx.Messenger.BroadcastPresence(group); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Presence отправлен")
			return nil
		},
	}

	presenceCmd.Flags().StringVarP(&group, "group", "g", "", "Multicast группа (по умолчанию 239.255.43.21)")
	return presenceCmd
}

func createJoinCommand(appCtx *AppContext) *cobra.Command {
	var group string

	joinCmd := &cobra.Command{
		Use:   "join",
		Short: "Вступает в multicast группу",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appCtx.Messenger.JoinMulticastGroup(group); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Вступили в группу %s\n", group)
			return nil
		},
	}

	joinCmd.Flags().StringVarP(&group, "group", "g", "", "Multicast группа")
	joinCmd.MarkFlagRequired("group")
	return joinCmd
}

func createLeaveCommand(appCtx *AppContext) *cobra.Command {
	var group string

	leaveCmd := &cobra.Command{
		Use:   "leave",
		Short: "Покидает multicast группу",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appCtx.Messenger.LeaveMulticastGroup(group); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Покинули группу %s\n", group)
			return nil
		},
	}

	leaveCmd.Flags().StringVarP(&group, "group", "g", "", "Multicast группа")
	leaveCmd.MarkFlagRequired("group")
	return leaveCmd
}

func established(appCtx *AppContext) int {
	n := 0
	for _, c := range appCtx.Messenger.Connections() {
		if c.State == connectionmanager.StateEstablished {
			n++
		}
	}
	return n
}
