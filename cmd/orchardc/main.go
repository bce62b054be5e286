package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/OrchardMediaLabs/orchard/accounts"
	"github.com/OrchardMediaLabs/orchard/client"
	"github.com/OrchardMediaLabs/orchard/config"
	"github.com/OrchardMediaLabs/orchard/models"
	"github.com/fatih/color"
)

var (
	logger      *slog.Logger
	serverAddr  string
	skipVerify  bool
	dataDir     string
	profileID   string
	configPath  string
	cmdTimeout  time.Duration
	successText = color.New(color.FgHiGreen)
	errorText   = color.New(color.FgHiRed)
	fieldText   = color.New(color.FgHiMagenta)
	infoText    = color.New(color.FgHiYellow)
)

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	defaultDataDir := ""
	if home, err := os.UserHomeDir(); err == nil {
		defaultDataDir = filepath.Join(home, ".orchard")
	}

	flag.StringVar(&serverAddr, "server", "http://127.0.0.1:7440", "Address of the orchard proxy.")
	flag.BoolVar(&skipVerify, "insecure", false, "Skip TLS certificate verification.")
	flag.StringVar(&dataDir, "data-dir", defaultDataDir, "Directory for locally saved profiles and sessions.")
	flag.StringVar(&profileID, "profile", "", "Profile id to act as. Required for media commands.")
	flag.StringVar(&configPath, "config", "", "Optional daemon config file; enables 'login legacy'.")
	flag.DurationVar(&cmdTimeout, "timeout", 60*time.Second, "Per-command timeout.")
}

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	cli, err := client.NewClient(&client.Config{
		Address:    serverAddr,
		SkipVerify: skipVerify,
		Timeout:    cmdTimeout,
		Logger:     logger,
	})
	if err != nil {
		fatalf("Failed to create client: %v", err)
	}

	store, err := accounts.New(dataDir, logger)
	if err != nil {
		fatalf("Failed to open local account store at %s: %v", dataDir, err)
	}
	defer store.Close()

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "profile":
		handleProfile(store, cmdArgs)
	case "login":
		handleLogin(cli, store, cmdArgs)
	case "logout":
		handleLogout(cli, store)
	case "ls":
		handleListAssets(cli, store, cmdArgs)
	case "folders":
		handleListFolders(cli, store)
	case "mkdir":
		handleCreateFolder(cli, store, cmdArgs)
	case "mv-folder":
		handleRenameFolder(cli, store, cmdArgs)
	case "rmdir":
		handleDeleteFolder(cli, store, cmdArgs)
	case "upload":
		handleUpload(cli, store, cmdArgs)
	case "mv":
		handleRenameAsset(cli, store, cmdArgs)
	case "rm":
		handleDeleteAsset(cli, store, cmdArgs)
	case "rm-batch":
		handleBatchDelete(cli, store, cmdArgs)
	case "ping":
		handlePing(cli)
	case "subscribe":
		handleSubscribe(cli, store, cmdArgs)
	default:
		errorText.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: orchardc [flags] <command> [args...]\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nCommands:\n")
	fmt.Fprintf(os.Stderr, "  profile add <label> <cloudName> <apiKey> <apiSecret> [uploadFolder]\n")
	fmt.Fprintf(os.Stderr, "  profile list\n")
	fmt.Fprintf(os.Stderr, "  profile delete <profileId>\n")
	fmt.Fprintf(os.Stderr, "  login             (mint a session for --profile)\n")
	fmt.Fprintf(os.Stderr, "  login legacy      (mint a session from the daemon config's legacyAccount)\n")
	fmt.Fprintf(os.Stderr, "  logout            (revoke the session of --profile)\n")
	fmt.Fprintf(os.Stderr, "  ls [folder]\n")
	fmt.Fprintf(os.Stderr, "  folders\n")
	fmt.Fprintf(os.Stderr, "  mkdir <folderPath>\n")
	fmt.Fprintf(os.Stderr, "  mv-folder <fromPath> <toPath>\n")
	fmt.Fprintf(os.Stderr, "  rmdir <folderPath>\n")
	fmt.Fprintf(os.Stderr, "  upload <folder> <file> [file...]\n")
	fmt.Fprintf(os.Stderr, "  mv <fromPublicId> <toPublicId>\n")
	fmt.Fprintf(os.Stderr, "  rm <publicId>\n")
	fmt.Fprintf(os.Stderr, "  rm-batch <publicId> [publicId...]\n")
	fmt.Fprintf(os.Stderr, "  ping\n")
	fmt.Fprintf(os.Stderr, "  subscribe <topic>   (topics: sessions, assets, folders)\n")
}

func fatalf(format string, args ...any) {
	errorText.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func cmdCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), cmdTimeout)
}

// requireSession maps --profile to the session id saved at login time.
func requireSession(store *accounts.Store) string {
	if profileID == "" {
		fatalf("a --profile is required for this command")
	}
	sessionID, err := store.GetSession(profileID)
	if err != nil {
		fatalf("No active session for profile %s, run 'login' first: %v", profileID, err)
	}
	return sessionID
}

func handleProfile(store *accounts.Store, args []string) {
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}
	switch args[0] {
	case "add":
		if len(args) < 5 {
			fatalf("profile add: requires <label> <cloudName> <apiKey> <apiSecret> [uploadFolder]")
		}
		profile := accounts.Profile{
			Label:     args[1],
			CloudName: args[2],
			APIKey:    args[3],
			APISecret: args[4],
		}
		if len(args) > 5 {
			profile.Folder = args[5]
		}
		id, err := store.Add(profile)
		if err != nil {
			fatalf("Failed to save profile: %v", err)
		}
		successText.Printf("Profile saved: %s\n", id)
	case "list":
		profiles, err := store.List()
		if err != nil {
			fatalf("Failed to list profiles: %v", err)
		}
		if len(profiles) == 0 {
			infoText.Println("No profiles saved.")
			return
		}
		for _, p := range profiles {
			fmt.Printf("%s  %s  %s\n", fieldText.Sprint(p.ID), p.Label, p.CloudName)
		}
	case "delete":
		if len(args) != 2 {
			fatalf("profile delete: requires <profileId>")
		}
		if err := store.Delete(args[1]); err != nil {
			fatalf("Failed to delete profile: %v", err)
		}
		successText.Println("Profile deleted.")
	default:
		fatalf("Unknown profile subcommand: %s", args[0])
	}
}

func handleLogin(cli *client.Client, store *accounts.Store, args []string) {
	ctx, cancel := cmdCtx()
	defer cancel()

	if len(args) == 1 && args[0] == "legacy" {
		if configPath == "" {
			fatalf("login legacy: requires --config pointing at the daemon config file")
		}
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			fatalf("Failed to load config %s: %v", configPath, err)
		}
		la := cfg.LegacyAccount
		if la.CloudName == "" || la.APIKey == "" || la.APISecret == "" {
			fatalf("legacyAccount is not fully specified in %s", configPath)
		}
		sessionID, err := cli.CreateSession(ctx, la.CloudName, la.APIKey, la.APISecret)
		if err != nil {
			fatalf("Login failed: %v", err)
		}
		successText.Printf("Session created: %s\n", sessionID)
		return
	}

	if profileID == "" {
		fatalf("a --profile is required to log in")
	}
	profile, err := store.Get(profileID)
	if err != nil {
		fatalf("Unknown profile %s: %v", profileID, err)
	}
	sessionID, err := cli.CreateSession(ctx, profile.CloudName, profile.APIKey, profile.APISecret)
	if err != nil {
		fatalf("Login failed: %v", err)
	}
	if err := store.SetSession(profileID, sessionID); err != nil {
		fatalf("Session created but could not be saved locally: %v", err)
	}
	successText.Printf("Logged in as %s (%s)\n", profile.Label, profile.CloudName)
}

func handleLogout(cli *client.Client, store *accounts.Store) {
	sessionID := requireSession(store)

	ctx, cancel := cmdCtx()
	defer cancel()

	if err := cli.RevokeSession(ctx, sessionID); err != nil {
		errorText.Fprintf(os.Stderr, "Revoke failed, clearing local session anyway: %v\n", err)
	}
	if err := store.ClearSession(profileID); err != nil {
		fatalf("Failed to clear local session: %v", err)
	}
	successText.Println("Logged out.")
}

func handleListAssets(cli *client.Client, store *accounts.Store, args []string) {
	sessionID := requireSession(store)

	folder := ""
	if len(args) > 0 {
		folder = args[0]
	}

	ctx, cancel := cmdCtx()
	defer cancel()

	assets, err := cli.ListAssets(ctx, sessionID, folder)
	if err != nil {
		fatalf("List failed: %v", err)
	}
	if len(assets) == 0 {
		infoText.Println("No assets.")
		return
	}
	for _, a := range assets {
		fmt.Printf("%s  %s  %dx%d  %d bytes\n", fieldText.Sprint(a.PublicID), a.Format, a.Width, a.Height, a.Bytes)
	}
}

func handleListFolders(cli *client.Client, store *accounts.Store) {
	sessionID := requireSession(store)

	ctx, cancel := cmdCtx()
	defer cancel()

	folders, err := cli.ListFolders(ctx, sessionID)
	if err != nil {
		fatalf("List failed: %v", err)
	}
	if len(folders) == 0 {
		infoText.Println("No folders.")
		return
	}
	for _, f := range folders {
		fmt.Println(f.Path)
	}
}

func handleCreateFolder(cli *client.Client, store *accounts.Store, args []string) {
	if len(args) != 1 {
		fatalf("mkdir: requires <folderPath>")
	}
	sessionID := requireSession(store)

	ctx, cancel := cmdCtx()
	defer cancel()

	folder, err := cli.CreateFolder(ctx, sessionID, args[0])
	if err != nil {
		fatalf("Create failed: %v", err)
	}
	successText.Printf("Created %s\n", folder.Path)
}

func handleRenameFolder(cli *client.Client, store *accounts.Store, args []string) {
	if len(args) != 2 {
		fatalf("mv-folder: requires <fromPath> <toPath>")
	}
	sessionID := requireSession(store)

	ctx, cancel := cmdCtx()
	defer cancel()

	if err := cli.RenameFolder(ctx, sessionID, args[0], args[1]); err != nil {
		fatalf("Rename failed: %v", err)
	}
	successText.Printf("Renamed %s -> %s\n", args[0], args[1])
}

func handleDeleteFolder(cli *client.Client, store *accounts.Store, args []string) {
	if len(args) != 1 {
		fatalf("rmdir: requires <folderPath>")
	}
	sessionID := requireSession(store)

	ctx, cancel := cmdCtx()
	defer cancel()

	if err := cli.DeleteFolder(ctx, sessionID, args[0]); err != nil {
		fatalf("Delete failed: %v", err)
	}
	successText.Printf("Deleted %s\n", args[0])
}

func handleUpload(cli *client.Client, store *accounts.Store, args []string) {
	if len(args) < 2 {
		fatalf("upload: requires <folder> <file> [file...]")
	}
	sessionID := requireSession(store)

	folder := args[0]
	var files []client.UploadFile
	var handles []*os.File
	defer func() {
		for _, f := range handles {
			f.Close()
		}
	}()

	for _, path := range args[1:] {
		f, err := os.Open(path)
		if err != nil {
			fatalf("Could not open %s: %v", path, err)
		}
		handles = append(handles, f)
		files = append(files, client.UploadFile{Name: filepath.Base(path), Reader: f})
	}

	ctx, cancel := cmdCtx()
	defer cancel()

	resp, err := cli.Upload(ctx, sessionID, folder, files)
	if err != nil {
		fatalf("Upload failed: %v", err)
	}
	for _, result := range resp.Files {
		if result.Success {
			successText.Printf("  %s -> %s\n", result.Name, result.PublicID)
		} else {
			errorText.Printf("  %s failed: %s\n", result.Name, result.Error)
		}
	}
	if !resp.Success {
		os.Exit(1)
	}
}

func handleRenameAsset(cli *client.Client, store *accounts.Store, args []string) {
	if len(args) != 2 {
		fatalf("mv: requires <fromPublicId> <toPublicId>")
	}
	sessionID := requireSession(store)

	ctx, cancel := cmdCtx()
	defer cancel()

	asset, err := cli.RenameAsset(ctx, sessionID, args[0], args[1])
	if err != nil {
		fatalf("Rename failed: %v", err)
	}
	successText.Printf("Renamed to %s\n", asset.PublicID)
}

func handleDeleteAsset(cli *client.Client, store *accounts.Store, args []string) {
	if len(args) != 1 {
		fatalf("rm: requires <publicId>")
	}
	sessionID := requireSession(store)

	ctx, cancel := cmdCtx()
	defer cancel()

	if err := cli.DeleteAsset(ctx, sessionID, args[0]); err != nil {
		fatalf("Delete failed: %v", err)
	}
	successText.Printf("Deleted %s\n", args[0])
}

func handleBatchDelete(cli *client.Client, store *accounts.Store, args []string) {
	if len(args) < 1 {
		fatalf("rm-batch: requires at least one <publicId>")
	}
	sessionID := requireSession(store)

	ctx, cancel := cmdCtx()
	defer cancel()

	deleted, err := cli.DeleteAssets(ctx, sessionID, args)
	if err != nil {
		fatalf("Batch delete failed: %v", err)
	}
	successText.Printf("Deleted %d of %d\n", deleted, len(args))
}

func handlePing(cli *client.Client) {
	ctx, cancel := cmdCtx()
	defer cancel()

	resp, err := cli.Ping(ctx)
	if err != nil {
		fatalf("Ping failed: %v", err)
	}
	for key, value := range resp {
		fmt.Printf("%s: %s\n", infoText.Sprint(key), value)
	}
}

func handleSubscribe(cli *client.Client, store *accounts.Store, args []string) {
	if len(args) != 1 {
		fatalf("subscribe: requires <topic>")
	}
	sessionID := requireSession(store)
	topic := args[0]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	infoText.Printf("Subscribed to %s, Ctrl-C to stop.\n", topic)
	err := cli.SubscribeToEvents(ctx, sessionID, topic, func(event models.Event) {
		fmt.Printf("%s %s/%s %+v\n",
			event.EmittedAt.Format(time.RFC3339),
			fieldText.Sprint(event.Topic),
			event.Action,
			event.Data,
		)
	})
	if err != nil && err != context.Canceled {
		fatalf("Subscription ended with error: %v", err)
	}
}
