package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dhawalhost/riskgate/pkg/database"
)

func main() {
	dir := flag.String("dir", "migrations", "Directory containing *.up.sql / *.down.sql files")
	down := flag.Bool("down", false, "Apply down migrations in reverse order instead")
	flag.Parse()

	db, err := database.Connect(context.Background(), database.ConfigFromEnv())
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	suffix := ".up.sql"
	if *down {
		suffix = ".down.sql"
	}

	entries, err := os.ReadDir(*dir)
	if err != nil {
		log.Fatalf("Failed to read migrations directory: %v", err)
	}
	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), suffix) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	if *down {
		for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
			files[i], files[j] = files[j], files[i]
		}
	}

	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(*dir, name))
		if err != nil {
			log.Fatalf("Failed to read %s: %v", name, err)
		}
		if _, err := db.Exec(string(content)); err != nil {
			log.Fatalf("Failed applying %s: %v", name, err)
		}
		fmt.Printf("Applied %s\n", name)
	}
}
