package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tyemirov/railcap/internal/execshell"
)

const (
	gitRevParseSubcommandConstant             = "rev-parse"
	gitAbbrevRefFlagConstant                  = "--abbrev-ref"
	gitHeadReferenceConstant                  = "HEAD"
	gitLsRemoteSubcommandConstant             = "ls-remote"
	gitRemoteBranchReferenceTemplateConstant  = "origin/%s"
	gitHeadsReferencePrefixConstant           = "refs/heads/"
	repositoryPathFieldNameConstant           = "repository_path"
	referenceFieldNameConstant                = "reference"
	repositoryFieldNameConstant               = "repository"
	branchNameFieldNameConstant               = "branch_name"
	requiredValueMessageConstant              = "value required"
	executorNotConfiguredMessageConstant      = "git executor not configured"
	revisionNotFoundMessageTemplateConstant   = "no revision advertised for %s"
	repositoryOperationErrorTemplateConstant  = "%s operation failed"
	repositoryOperationErrorWithCauseConstant = "%s operation failed: %s"
	invalidRepositoryInputTemplateConstant    = "%s: %s"
	revParseOperationNameConstant             = RepositoryOperationName("RevParse")
	lsRemoteOperationNameConstant             = RepositoryOperationName("LsRemote")
	currentBranchOperationNameConstant        = RepositoryOperationName("GetCurrentBranch")
)

// GitCommandExecutor exposes the subset of execshell functionality required by RepositoryManager.
type GitCommandExecutor interface {
	ExecuteGit(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// RepositoryManager answers revision questions about the local checkout and the deploy repository.
type RepositoryManager struct {
	executor GitCommandExecutor
}

var (
	// ErrGitExecutorNotConfigured indicates the RepositoryManager was constructed without a git executor.
	ErrGitExecutorNotConfigured = errors.New(executorNotConfiguredMessageConstant)
	// ErrRevisionNotFound indicates ls-remote returned no matching reference.
	ErrRevisionNotFound = errors.New("revision not found")
)

// InvalidRepositoryInputError indicates validation failures for repository operations.
type InvalidRepositoryInputError struct {
	FieldName string
	Message   string
}

// Error describes the validation failure.
func (inputError InvalidRepositoryInputError) Error() string {
	return fmt.Sprintf(invalidRepositoryInputTemplateConstant, inputError.FieldName, inputError.Message)
}

// RepositoryOperationName captures descriptive names for repository operations.
type RepositoryOperationName string

// RepositoryOperationError wraps execution failures for git operations.
type RepositoryOperationError struct {
	Operation RepositoryOperationName
	Cause     error
}

// Error describes the repository operation failure.
func (operationError RepositoryOperationError) Error() string {
	if operationError.Cause == nil {
		return fmt.Sprintf(repositoryOperationErrorTemplateConstant, operationError.Operation)
	}
	return fmt.Sprintf(repositoryOperationErrorWithCauseConstant, operationError.Operation, operationError.Cause)
}

// Unwrap exposes the underlying error.
func (operationError RepositoryOperationError) Unwrap() error {
	return operationError.Cause
}

// NewRepositoryManager constructs a RepositoryManager for the provided executor.
func NewRepositoryManager(executor GitCommandExecutor) (*RepositoryManager, error) {
	if executor == nil {
		return nil, ErrGitExecutorNotConfigured
	}
	return &RepositoryManager{executor: executor}, nil
}

// RevParse resolves a reference in the local repository to a full commit hash.
func (manager *RepositoryManager) RevParse(executionContext context.Context, repositoryPath string, reference string) (string, error) {
	trimmedPath := strings.TrimSpace(repositoryPath)
	if len(trimmedPath) == 0 {
		return "", InvalidRepositoryInputError{FieldName: repositoryPathFieldNameConstant, Message: requiredValueMessageConstant}
	}
	trimmedReference := strings.TrimSpace(reference)
	if len(trimmedReference) == 0 {
		return "", InvalidRepositoryInputError{FieldName: referenceFieldNameConstant, Message: requiredValueMessageConstant}
	}

	commandDetails := execshell.CommandDetails{
		Arguments:        []string{gitRevParseSubcommandConstant, trimmedReference},
		WorkingDirectory: trimmedPath,
	}

	executionResult, executionError := manager.executor.ExecuteGit(executionContext, commandDetails)
	if executionError != nil {
		return "", RepositoryOperationError{Operation: revParseOperationNameConstant, Cause: executionError}
	}
	return strings.TrimSpace(executionResult.StandardOutput), nil
}

// HeadRevision resolves HEAD of the local checkout.
func (manager *RepositoryManager) HeadRevision(executionContext context.Context, repositoryPath string) (string, error) {
	return manager.RevParse(executionContext, repositoryPath, gitHeadReferenceConstant)
}

// TrackingRevision resolves origin/<branch> in the local checkout.
func (manager *RepositoryManager) TrackingRevision(executionContext context.Context, repositoryPath string, branchName string) (string, error) {
	trimmedBranch := strings.TrimSpace(branchName)
	if len(trimmedBranch) == 0 {
		return "", InvalidRepositoryInputError{FieldName: branchNameFieldNameConstant, Message: requiredValueMessageConstant}
	}
	return manager.RevParse(executionContext, repositoryPath, fmt.Sprintf(gitRemoteBranchReferenceTemplateConstant, trimmedBranch))
}

// LsRemote asks the repository which commit the branch points at.
// A branch that already looks like a full 40 character hash is returned unchanged.
func (manager *RepositoryManager) LsRemote(executionContext context.Context, workingDirectory string, repository string, branchName string) (string, error) {
	trimmedRepository := strings.TrimSpace(repository)
	if len(trimmedRepository) == 0 {
		return "", InvalidRepositoryInputError{FieldName: repositoryFieldNameConstant, Message: requiredValueMessageConstant}
	}
	trimmedBranch := strings.TrimSpace(branchName)
	if len(trimmedBranch) == 0 {
		return "", InvalidRepositoryInputError{FieldName: branchNameFieldNameConstant, Message: requiredValueMessageConstant}
	}
	if isFullCommitHash(trimmedBranch) {
		return trimmedBranch, nil
	}

	commandDetails := execshell.CommandDetails{
		Arguments:        []string{gitLsRemoteSubcommandConstant, trimmedRepository, trimmedBranch},
		WorkingDirectory: strings.TrimSpace(workingDirectory),
	}

	executionResult, executionError := manager.executor.ExecuteGit(executionContext, commandDetails)
	if executionError != nil {
		return "", RepositoryOperationError{Operation: lsRemoteOperationNameConstant, Cause: executionError}
	}

	revision := selectAdvertisedRevision(executionResult.StandardOutput, trimmedBranch)
	if len(revision) == 0 {
		return "", RepositoryOperationError{
			Operation: lsRemoteOperationNameConstant,
			Cause:     fmt.Errorf("%w: "+revisionNotFoundMessageTemplateConstant, ErrRevisionNotFound, trimmedBranch),
		}
	}
	return revision, nil
}

// GetCurrentBranch returns the current branch name.
func (manager *RepositoryManager) GetCurrentBranch(executionContext context.Context, repositoryPath string) (string, error) {
	trimmedPath := strings.TrimSpace(repositoryPath)
	if len(trimmedPath) == 0 {
		return "", InvalidRepositoryInputError{FieldName: repositoryPathFieldNameConstant, Message: requiredValueMessageConstant}
	}

	commandDetails := execshell.CommandDetails{
		Arguments:        []string{gitRevParseSubcommandConstant, gitAbbrevRefFlagConstant, gitHeadReferenceConstant},
		WorkingDirectory: trimmedPath,
	}

	executionResult, executionError := manager.executor.ExecuteGit(executionContext, commandDetails)
	if executionError != nil {
		return "", RepositoryOperationError{Operation: currentBranchOperationNameConstant, Cause: executionError}
	}
	return strings.TrimSpace(executionResult.StandardOutput), nil
}

// selectAdvertisedRevision prefers an exact refs/heads/<branch> match, then the first advertised line.
func selectAdvertisedRevision(output string, branchName string) string {
	exactReference := gitHeadsReferencePrefixConstant + branchName
	firstRevision := ""
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if fields[1] == exactReference || fields[1] == branchName {
			return fields[0]
		}
		if len(firstRevision) == 0 {
			firstRevision = fields[0]
		}
	}
	return firstRevision
}

func isFullCommitHash(candidate string) bool {
	if len(candidate) != 40 {
		return false
	}
	for _, character := range candidate {
		isDigit := character >= '0' && character <= '9'
		isHexLetter := character >= 'a' && character <= 'f'
		if !isDigit && !isHexLetter {
			return false
		}
	}
	return true
}
