package mailprovider

import (
	"regexp"
	"strings"
)

var reCategoryLabel = regexp.MustCompile(`^CATEGORY_`)

// EffectiveCategory is the minimal shape apply_label_update needs from
// an effective rule-set entry: the classification outcome for a message.
type EffectiveCategory struct {
	MailLabel          string
	ProviderCategories []string
	Important          bool

	// SkipInbox and MarkSpam carry the supplemented CategoryInboxSetting
	// extension: SkipInbox removes INBOX, MarkSpam adds SPAM alongside
	// the category's own labels.
	SkipInbox bool
	MarkSpam  bool
}

// BuildLabelUpdate implements the apply_label_update algorithm: the
// subset of currentLabels matching CATEGORY_* is the current provider
// categories; add is the category's provider categories plus the
// label id for its mail_label plus IMPORTANT if flagged; remove is the
// current categories minus the new ones, but only when the new set is
// non-empty (a category update never strips the last category).
func BuildLabelUpdate(currentLabels []string, category EffectiveCategory, labelNameToID map[string]string) (addLabelIDs, removeLabelIDs []string, update LabelUpdate, ok bool) {
	labelID, found := labelNameToID[category.MailLabel]
	if !found {
		return nil, nil, LabelUpdate{}, false
	}

	var currentCategories []string
	for _, l := range currentLabels {
		if reCategoryLabel.MatchString(l) {
			currentCategories = append(currentCategories, l)
		}
	}

	add := append([]string{}, category.ProviderCategories...)
	if category.MarkSpam {
		add = append(add, "SPAM")
	}

	var remove []string
	if category.SkipInbox {
		remove = append(remove, "INBOX")
	}
	if len(category.ProviderCategories) > 0 {
		addSet := make(map[string]struct{}, len(add))
		for _, c := range add {
			addSet[c] = struct{}{}
		}
		for _, c := range currentCategories {
			if _, already := addSet[c]; !already {
				remove = append(remove, c)
			}
		}
	}

	addLabelIDs = append(append([]string{}, add...), labelID)
	addedNames := append(append([]string{}, add...), category.MailLabel)
	if category.Important {
		addLabelIDs = append(addLabelIDs, "IMPORTANT")
		addedNames = append(addedNames, "IMPORTANT")
	}

	update = LabelUpdate{}
	if len(addedNames) > 0 {
		update.Added = addedNames
	}
	if len(remove) > 0 {
		update.Removed = remove
	}
	return addLabelIDs, remove, update, true
}

// KeepLabelName is the utility label (original_source's
// UtilityLabels::Keep) a user applies to a message to exempt it from
// auto-cleanup regardless of category or age.
const KeepLabelName = "keep"

// RequiredLabelNames computes the full set of Mailclerk/<name> labels
// that must exist: defaults, active custom rules, heuristic rules,
// "uncategorized", the "keep" utility label, and cleanup-related
// labels, all under the managed namespace.
func RequiredLabelNames(mailLabels []string, heuristicLabels []string, cleanupLabels []string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(name string) {
		full := Namespaced(name)
		if _, ok := seen[full]; ok {
			return
		}
		seen[full] = struct{}{}
		out = append(out, full)
	}

	add("uncategorized")
	add(KeepLabelName)
	for _, l := range mailLabels {
		add(l)
	}
	for _, l := range heuristicLabels {
		add(l)
	}
	for _, l := range cleanupLabels {
		add(l)
	}
	return out
}

// Namespaced prefixes a bare label name with the application namespace,
// unless it is already namespaced or is a reserved provider label like
// IMPORTANT or a CATEGORY_* system category.
func Namespaced(name string) string {
	if name == "" {
		return name
	}
	if strings.HasPrefix(name, labelNamespace+"/") || name == labelNamespace {
		return name
	}
	if reCategoryLabel.MatchString(name) || name == "IMPORTANT" || name == "INBOX" || name == "SPAM" {
		return name
	}
	return labelNamespace + "/" + name
}
