package historian

// TagTitlesForItem derives the tag titles one item should carry on the remote
// side: its source, topic, timeline day and optionally the source domain.
func TagTitlesForItem(item PendingItem, sourceName string, useDomainTags bool) []string {
	titles := []string{
		"source/" + sourceName,
		"topic/" + TopicSlug(item.Topic),
		"timeline/" + item.Day,
	}
	if useDomainTags && item.SourceDomain != "" {
		titles = append(titles, "domain/"+item.SourceDomain)
	}
	return titles
}

// ToBookmarkRequest maps one pending item to a bulk-call element. A blank
// title falls back to the URL so the remote side never rejects an empty one.
func ToBookmarkRequest(item PendingItem, tagIDs []int64) BookmarkRequest {
	title := NormalizeWhitespace(item.Title)
	if title == "" {
		title = item.URL
	}
	return BookmarkRequest{
		Title:     title,
		URL:       item.URL,
		TagIDs:    tagIDs,
		Scrapable: true,
	}
}
