package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gobt/cmd/gobt/bencode"
	"gobt/cmd/gobt/magnet"
	"gobt/cmd/gobt/metainfo"
	"gobt/cmd/gobt/peering"
)

func init() {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(logger)
}

func main() {
	logger := zap.L()
	if len(os.Args) < 2 {
		logger.Error("No command given")
		os.Exit(1)
	}
	command := os.Args[1]

	switch command {
	case "decode":
		if err := handleDecode(os.Args); err != nil {
			logger.Error("Failed to decode", zap.Error(err))
			os.Exit(1)
		}
	case "info":
		if err := handleInfo(os.Args); err != nil {
			logger.Error("Failed to get info", zap.Error(err))
			os.Exit(1)
		}
	case "peers":
		if err := handlePeers(os.Args); err != nil {
			logger.Error("Failed to get peers", zap.Error(err))
			os.Exit(1)
		}
	case "handshake":
		if err := handleHandshake(os.Args); err != nil {
			logger.Error("Failed to handshake", zap.Error(err))
			os.Exit(1)
		}
	case "download_piece":
		if err := handleDownloadPiece(os.Args); err != nil {
			logger.Error("Failed to download piece", zap.Error(err))
			os.Exit(1)
		}
	case "download":
		if err := handleDownload(os.Args); err != nil {
			logger.Error("Failed to download", zap.Error(err))
			os.Exit(1)
		}
	case "magnet_parse":
		if err := handleMagnetParse(os.Args); err != nil {
			logger.Error("Failed to parse magnet link", zap.Error(err))
			os.Exit(1)
		}
	default:
		logger.Error("Unknown command", zap.String("command", command))
		os.Exit(1)
	}
}

func handleDecode(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: decode <bencoded-value>")
	}

	decoded, _, err := bencode.Decode([]byte(args[2]))
	if err != nil {
		return err
	}

	jsonOutput, err := json.Marshal(decoded.Interface())
	if err != nil {
		return err
	}
	fmt.Println(string(jsonOutput))
	return nil
}

func readMeta(path string) (*metainfo.Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read torrent file: %w", err)
	}
	return metainfo.Parse(data)
}

func handleInfo(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: info <torrent-file>")
	}

	meta, err := readMeta(args[2])
	if err != nil {
		return err
	}

	hash := meta.Info.Hash()
	fmt.Printf("Tracker URL: %s\n", meta.Announce)
	fmt.Printf("Length: %d\n", meta.Info.Length)
	fmt.Printf("Info Hash: %x\n", hash)
	fmt.Printf("Piece Length: %d\n", meta.Info.PieceLength)
	fmt.Println("Piece Hashes:")
	for i := 0; i < meta.Info.PieceCount(); i++ {
		pieceHash, err := meta.Info.PieceHash(i)
		if err != nil {
			return err
		}
		fmt.Printf("%x\n", pieceHash)
	}
	return nil
}

func handlePeers(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: peers <torrent-file>")
	}

	meta, err := readMeta(args[2])
	if err != nil {
		return err
	}

	peers, err := peering.DiscoverPeers(meta.Announce, meta.Info.Hash(), peering.GeneratePeerID(), meta.Info.Length)
	if err != nil {
		return err
	}

	for _, peer := range peers {
		fmt.Println(peer.Addr())
	}
	return nil
}

func handleHandshake(args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("usage: handshake <torrent-file> <peer-address>")
	}

	meta, err := readMeta(args[2])
	if err != nil {
		return err
	}

	conn, err := net.DialTimeout("tcp", args[3], 3*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to peer: %w", err)
	}
	defer conn.Close()

	hs, err := peering.PerformHandshake(conn, meta.Info.Hash(), peering.GeneratePeerID())
	if err != nil {
		return err
	}

	fmt.Printf("Peer ID: %x\n", hs.PeerID)
	return nil
}

func handleDownloadPiece(args []string) error {
	if len(args) != 6 || args[2] != "-o" {
		return fmt.Errorf("usage: download_piece -o <output-path> <torrent-file> <piece-index>")
	}
	outputPath := args[3]

	pieceIndex, err := strconv.Atoi(args[5])
	if err != nil {
		return fmt.Errorf("invalid piece index: %w", err)
	}

	meta, err := readMeta(args[4])
	if err != nil {
		return err
	}
	if pieceIndex < 0 || pieceIndex >= meta.Info.PieceCount() {
		return fmt.Errorf("piece %d out of range, torrent has %d pieces", pieceIndex, meta.Info.PieceCount())
	}

	client, err := peering.NewClient(meta)
	if err != nil {
		return err
	}

	pieceData, err := client.DownloadPiece(pieceIndex)
	if err != nil {
		return err
	}

	return os.WriteFile(outputPath, pieceData, 0644)
}

func handleDownload(args []string) error {
	if len(args) != 5 || args[2] != "-o" {
		return fmt.Errorf("usage: download -o <output-path> <torrent-file>")
	}
	outputPath := args[3]

	meta, err := readMeta(args[4])
	if err != nil {
		return err
	}

	client, err := peering.NewClient(meta)
	if err != nil {
		return err
	}

	fileData, err := client.DownloadAll()
	if err != nil {
		return err
	}

	return os.WriteFile(outputPath, fileData, 0644)
}

func handleMagnetParse(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: magnet_parse <magnet-link>")
	}

	link, err := magnet.Parse(args[2])
	if err != nil {
		return err
	}
	if len(link.Trackers) == 0 {
		return fmt.Errorf("no trackers found in magnet link")
	}

	fmt.Printf("Tracker URL: %s\n", link.Trackers[0])
	fmt.Printf("Info Hash: %x\n", link.InfoHash)
	return nil
}
