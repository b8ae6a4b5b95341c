package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/credential-lifecycle-api/internal/models"
	appErrors "github.com/noah-isme/credential-lifecycle-api/pkg/errors"
	"github.com/noah-isme/credential-lifecycle-api/pkg/export"
	"github.com/noah-isme/credential-lifecycle-api/pkg/storage"
)

// DocumentGenerator produces one artifact for a credential and returns its storage reference.
type DocumentGenerator interface {
	Generate(ctx context.Context, tenantID string, cred models.Credential, kind string) (string, error)
}

// DocumentVerifier checks a generated artifact. A non-passed verdict carries a reason.
type DocumentVerifier interface {
	Verify(ctx context.Context, tenantID string, cred models.Credential, kind, ref string) (models.DocumentVerdict, string, error)
}

type artifactStore interface {
	Save(filename string, data []byte) (string, error)
	Read(filename string) ([]byte, error)
}

type downloadSigner interface {
	Generate(tenantID, ref string) (string, time.Time, error)
}

// RequirementTable is the lookup from credential type and nationality to required document kinds.
type RequirementTable struct {
	Base          []string
	ByType        map[models.CredentialType][]string
	ByNationality map[string][]string
}

// DefaultRequirementTable returns the built-in document requirements.
func DefaultRequirementTable() RequirementTable {
	return RequirementTable{
		Base: []string{
			"passport_copy",
			"current_permit_copy",
			"employment_contract",
			"salary_certificate",
			"medical_certificate",
			"photos",
			"application_form",
		},
		ByType: map[models.CredentialType][]string{
			models.CredentialTypeDependentPermit:     {"family_documents", "relationship_proof"},
			models.CredentialTypeProfessionalLicense: {"professional_qualification"},
		},
		ByNationality: map[string][]string{},
	}
}

// Lookup returns the ordered, de-duplicated document kinds for the pair.
func (t RequirementTable) Lookup(credType models.CredentialType, nationality string) []string {
	seen := make(map[string]struct{})
	kinds := make([]string, 0, len(t.Base)+2)
	add := func(list []string) {
		for _, kind := range list {
			if _, ok := seen[kind]; ok {
				continue
			}
			seen[kind] = struct{}{}
			kinds = append(kinds, kind)
		}
	}
	add(t.Base)
	add(t.ByType[credType])
	add(t.ByNationality[strings.ToUpper(strings.TrimSpace(nationality))])
	return kinds
}

// DocumentPipeline generates the required document set for a credential and verifies each artifact.
type DocumentPipeline struct {
	table     RequirementTable
	generator DocumentGenerator
	verifier  DocumentVerifier
	signer    downloadSigner
	timeout   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewDocumentPipeline constructs the pipeline. signer may be nil, in which case no download tokens are issued.
func NewDocumentPipeline(table RequirementTable, generator DocumentGenerator, verifier DocumentVerifier, signer downloadSigner, timeout time.Duration, logger *zap.Logger) *DocumentPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DocumentPipeline{
		table:     table,
		generator: generator,
		verifier:  verifier,
		signer:    signer,
		timeout:   timeout,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Requirements returns the document kinds required to renew cred.
func (p *DocumentPipeline) Requirements(cred models.Credential) []string {
	return p.table.Lookup(cred.Type, cred.Nationality)
}

// Prepare generates and verifies every required document. Individual generation failures are
// counted as pending; only a cancelled context fails the call.
func (p *DocumentPipeline) Prepare(ctx context.Context, tenantID string, cred models.Credential) (models.PreparationResult, error) {
	required := p.Requirements(cred)
	result := models.PreparationResult{
		CredentialID:      cred.ID,
		DocumentsRequired: required,
		Documents:         make([]models.PreparedDocument, 0, len(required)),
	}

	for _, kind := range required {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		doc := p.prepareOne(ctx, tenantID, cred, kind)
		if doc.ArtifactRef != "" {
			result.DocumentsGenerated++
		}
		if doc.Verdict == models.DocumentVerdictPassed {
			result.DocumentsReady++
		} else {
			result.DocumentsPending++
		}
		result.Documents = append(result.Documents, doc)
	}

	if len(required) == 0 {
		result.QualityScore = 1
	} else {
		result.QualityScore = float64(result.DocumentsReady) / float64(len(required))
	}
	return result, nil
}

func (p *DocumentPipeline) prepareOne(ctx context.Context, tenantID string, cred models.Credential, kind string) models.PreparedDocument {
	doc := models.PreparedDocument{Kind: kind, Verdict: models.DocumentVerdictPending, GeneratedAt: p.now()}

	genCtx, cancel := context.WithTimeout(ctx, p.timeout)
	ref, err := p.generator.Generate(genCtx, tenantID, cred, kind)
	cancel()
	if err != nil {
		p.logger.Sugar().Warnw("document generation failed", "tenant_id", tenantID, "credential_id", cred.ID, "kind", kind, "error", err)
		doc.Reason = fmt.Sprintf("generation failed: %v", err)
		return doc
	}
	doc.ArtifactRef = ref

	verifyCtx, cancel := context.WithTimeout(ctx, p.timeout)
	verdict, reason, err := p.verifier.Verify(verifyCtx, tenantID, cred, kind, ref)
	cancel()
	if err != nil {
		p.logger.Sugar().Warnw("document verification failed", "tenant_id", tenantID, "credential_id", cred.ID, "kind", kind, "error", err)
		doc.Reason = fmt.Sprintf("verification unavailable: %v", err)
		return doc
	}
	doc.Verdict = verdict
	doc.Reason = reason

	if verdict == models.DocumentVerdictPassed && p.signer != nil {
		token, _, err := p.signer.Generate(tenantID, ref)
		if err != nil {
			p.logger.Sugar().Warnw("failed to sign document download", "credential_id", cred.ID, "kind", kind, "error", err)
		} else {
			doc.DownloadToken = token
		}
	}
	return doc
}

// PDFDocumentGenerator renders each document kind as a PDF form and stores it.
type PDFDocumentGenerator struct {
	exporter *export.PDFExporter
	store    artifactStore
	now      func() time.Time
}

// NewPDFDocumentGenerator constructs a generator writing into store.
func NewPDFDocumentGenerator(exporter *export.PDFExporter, store artifactStore) *PDFDocumentGenerator {
	if exporter == nil {
		exporter = export.NewPDFExporter("credential-lifecycle-api")
	}
	return &PDFDocumentGenerator{exporter: exporter, store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Generate renders and stores the artifact for kind.
func (g *PDFDocumentGenerator) Generate(ctx context.Context, tenantID string, cred models.Credential, kind string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	generatedAt := g.now()
	sponsor := "-"
	if cred.HasSponsor() {
		sponsor = *cred.SponsorID
	}
	form := export.Form{
		Title:    strings.ToUpper(strings.ReplaceAll(kind, "_", " ")),
		Subtitle: fmt.Sprintf("Renewal package for %s %s", cred.Type, cred.ExternalNumber),
		Fields: []export.Field{
			{Label: "Holder", Value: cred.HolderID},
			{Label: "Credential type", Value: string(cred.Type)},
			{Label: "External number", Value: cred.ExternalNumber},
			{Label: "Nationality", Value: cred.Nationality},
			{Label: "Sponsor", Value: sponsor},
			{Label: "Issue date", Value: cred.IssueDate.Format("2006-01-02")},
			{Label: "Expiry date", Value: cred.ExpiryDate.Format("2006-01-02")},
		},
		Footer: fmt.Sprintf("Generated %s", generatedAt.Format(time.RFC3339)),
	}
	data, err := g.exporter.RenderForm(form)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", kind, err)
	}
	filename := fmt.Sprintf("%s/%s/%s-%d.pdf", tenantID, cred.ID, kind, generatedAt.UnixNano())
	ref, err := g.store.Save(filename, data)
	if err != nil {
		return "", fmt.Errorf("store %s: %w", kind, err)
	}
	return ref, nil
}

// ArtifactVerifier checks that a stored artifact exists and is a well-formed PDF.
type ArtifactVerifier struct {
	store artifactStore
}

// NewArtifactVerifier constructs a verifier reading from store.
func NewArtifactVerifier(store artifactStore) *ArtifactVerifier {
	return &ArtifactVerifier{store: store}
}

// Verify reads the artifact back and inspects it.
func (v *ArtifactVerifier) Verify(ctx context.Context, _ string, _ models.Credential, kind, ref string) (models.DocumentVerdict, string, error) {
	if err := ctx.Err(); err != nil {
		return models.DocumentVerdictPending, "", err
	}
	data, err := v.store.Read(ref)
	if err != nil {
		return models.DocumentVerdictPending, "", err
	}
	switch {
	case len(data) == 0:
		return models.DocumentVerdictFailed, fmt.Sprintf("%s artifact is empty", kind), nil
	case !bytes.HasPrefix(data, []byte("%PDF")):
		return models.DocumentVerdictFailed, fmt.Sprintf("%s artifact is not a PDF document", kind), nil
	default:
		return models.DocumentVerdictPassed, "", nil
	}
}

type downloadTokenParser interface {
	Parse(token string) (storage.SignedArtifact, error)
}

// ArtifactDownloads resolves signed download tokens to stored document artifacts.
type ArtifactDownloads struct {
	parser downloadTokenParser
	store  artifactStore
}

// NewArtifactDownloads constructs the resolver.
func NewArtifactDownloads(parser downloadTokenParser, store artifactStore) *ArtifactDownloads {
	return &ArtifactDownloads{parser: parser, store: store}
}

// Resolve validates token and returns the artifact it names.
func (d *ArtifactDownloads) Resolve(_ context.Context, token string) (*ExportFile, error) {
	if d == nil || d.parser == nil || d.store == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "document downloads not configured")
	}
	artifact, err := d.parser.Parse(strings.TrimSpace(token))
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired token")
	}
	if !strings.HasPrefix(artifact.Ref, artifact.TenantID+"/") {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token does not match artifact tenant")
	}
	data, err := d.store.Read(artifact.Ref)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read document")
	}
	return &ExportFile{Filename: path.Base(artifact.Ref), ContentType: "application/pdf", Data: data}, nil
}
