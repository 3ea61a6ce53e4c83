package connectionmanager

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"lanlink/internal/protocol"
	"lanlink/internal/util/logger/sl"
)

// serve читает соединение до разрыва, затем убирает его из таблицы
func (m *ConnectionManager) serve(c *Connection) {
	log := m.log.With(
		slog.String("conn_id", c.ID()),
		slog.String("address", c.Address()),
	)

	log.Debug("Starting message processing")

	err := c.readLoop(m.cfg.MaxFrameSize, func(body []byte) {
		m.processFrame(c, body)
	})

	switch {
	case err == nil, errors.Is(err, io.EOF):
		log.Info("Peer closed connection")
	case errors.Is(err, protocol.ErrFrameTooLarge):
		log.Warn("Dropping connection", sl.Err(err))
		m.handleError(fmt.Errorf("%s: %w", c.Address(), err))
	default:
		log.Info("Connection lost", sl.Err(err))
	}

	m.onDisconnected(c)
}

func (m *ConnectionManager) onDisconnected(c *Connection) {
	m.unregister(c)
}

func (m *ConnectionManager) processFrame(c *Connection, body []byte) {
	const op = "connectionmanager.processFrame"
	log := m.log.With(slog.String("op", op), slog.String("conn_id", c.ID()))

	frame, err := protocol.DecodeFrame(body)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			// тело уже вычитано по объявленной длине, поток не сбит
			log.Warn("Skipping frame of unknown type", slog.Int("size", len(body)), sl.Err(err))
			return
		}
		log.Warn("Dropping malformed frame", slog.Int("size", len(body)), sl.Err(err))
		return
	}

	switch frame.Type {
	case protocol.TypeText:
		m.emit(Event{
			Type:    MessageReceived,
			ConnID:  c.ID(),
			Address: c.Address(),
			Text:    frame.Text,
		})
	case protocol.TypeFile:
		path, err := m.saveFile(frame.FileName, frame.Data)
		if err != nil {
			log.Error("Failed to save received file", slog.String("name", frame.FileName), sl.Err(err))
			m.handleError(fmt.Errorf("receive file from %s: %w", c.Address(), err))
			return
		}

		log.Info("File received", slog.String("path", path), slog.Int("size", len(frame.Data)))
		m.emit(Event{
			Type:    FileReceived,
			ConnID:  c.ID(),
			Address: c.Address(),
			Text:    frame.FileName,
			Path:    path,
		})
	}
}

// saveFile пишет файл в каталог загрузок; существующий файл перезаписывается
func (m *ConnectionManager) saveFile(name string, data []byte) (string, error) {
	if err := ValidateFileName(name); err != nil {
		return "", err
	}

	if err := os.MkdirAll(m.cfg.DownloadsDir, 0o755); err != nil {
		return "", fmt.Errorf("create downloads dir: %w", err)
	}

	path := filepath.Join(m.cfg.DownloadsDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// ValidateFileName отклоняет пустые имена, разделители путей и "..".
func ValidateFileName(name string) error {
	if name == "" || name == "." {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	if strings.ContainsAny(name, "/\\\x00") || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return nil
}
