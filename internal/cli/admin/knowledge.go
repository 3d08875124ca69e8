package admin

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cloo-solutions/deepresearch/internal/config"
	"github.com/cloo-solutions/deepresearch/internal/domain"
	"github.com/cloo-solutions/deepresearch/internal/knowledge"
	"github.com/cloo-solutions/deepresearch/internal/openai"
	"github.com/cloo-solutions/deepresearch/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

func KnowledgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Manage the internal knowledge index",
	}

	cmd.AddCommand(KnowledgeLoadCmd())

	return cmd
}

func KnowledgeLoadCmd() *cobra.Command {
	var (
		scope   string
		tier    string
		url     string
		noEmbed bool
	)

	cmd := &cobra.Command{
		Use:   "load <file.md>...",
		Short: "Index markdown files into a knowledge scope",
		Long:  "Chunks and embeds the given markdown files and replaces the contents of the scope with them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := readDocuments(args, domain.CredibilityTier(strings.ToUpper(tier)), url)
			if err != nil {
				return err
			}
			return runKnowledgeLoad(cmd.Context(), scope, docs, noEmbed)
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "Knowledge scope to replace")
	cmd.Flags().StringVar(&tier, "tier", "", "Credibility tier for every document (e.g. PRIMARY_SOURCE)")
	cmd.Flags().StringVar(&url, "url", "", "Source URL recorded on every document")
	cmd.Flags().BoolVar(&noEmbed, "no-embed", false, "Store chunks without embeddings (lexical search only)")
	_ = cmd.MarkFlagRequired("scope")

	return cmd
}

func readDocuments(paths []string, tier domain.CredibilityTier, url string) ([]knowledge.Document, error) {
	docs := make([]knowledge.Document, 0, len(paths))
	for _, path := range paths {
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		doc := knowledge.DocumentFromMarkdown(path, string(body))
		doc.CredibilityTier = tier
		doc.URL = url
		docs = append(docs, doc)
	}
	return docs, nil
}

func runKnowledgeLoad(ctx context.Context, scope string, docs []knowledge.Document, noEmbed bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	var embedder knowledge.Embedder
	if !noEmbed {
		if !cfg.HasOpenAI() {
			return fmt.Errorf("RESEARCH_OPENAI_API_KEY is required to embed chunks (or pass --no-embed)")
		}
		embedder = openai.NewClientWithConfig(openai.Config{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL})
	}

	ing := knowledge.NewIngester(embedder, txChunkStore{pool: pool}, knowledge.DefaultChunkConfig())
	n, err := ing.Ingest(ctx, scope, docs)
	if err != nil {
		return err
	}
	fmt.Printf("Indexed %d chunks into scope %s\n", n, scope)
	return nil
}

// txChunkStore swaps a scope's chunks in one transaction so searches never
// see a half-loaded scope.
type txChunkStore struct {
	pool *pgxpool.Pool
}

func (s txChunkStore) ReplaceChunks(ctx context.Context, scopeID string, chunks []domain.KnowledgeChunk) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return repository.NewKnowledgeChunkRepositoryWithTx(tx, nil).ReplaceChunks(ctx, scopeID, chunks)
	})
}
