package config

// Default selector fallback chains for the WhatsApp Web UI. Each list is
// tried in order and the first match wins; the remote UI changes layout
// between releases, which is why several generations of selectors stay in
// the chain. Overridable per-deployment through the selectors section.
var (
	defaultSendButtonSelectors = []string{
		`//span[@data-testid='send']`,
		`//*[@id='main']/footer/div[1]/div/span/div/div[2]/div/div[4]/button`,
		`//button[@aria-label='Send']`,
		`//div[@data-testid='compose-btn-send']`,
		`/html/body/div[1]/div/div/div[3]/div/div[4]/div/footer/div[1]/div/span/div/div[2]/div/div[4]/button`,
		`//*[@id='main']/footer/div[1]/div/span/div/div[2]/div/div[4]/button/span`,
	}

	defaultChatLoadedSelectors = []string{
		`//div[@data-testid='conversation-compose-box-input']`,
		`//*[@id='main']/footer/div[1]/div/span/div/div[2]/div/div[1]/div/div[2]`,
		`//div[@contenteditable='true'][@data-tab='10']`,
	}

	defaultSessionSelectors = []string{
		`#pane-side`,
		`//div[@data-testid='chat-list']`,
		`//div[@id='app']//div[contains(@class,'two')]`,
		`//header[@data-testid='chat-header']`,
		`//div[@contenteditable='true'][@data-tab='10']`,
	}

	defaultQRCodeSelectors = []string{
		`//div[@data-testid='qr-code']`,
		`//canvas[@aria-label='Scan me!']`,
	}

	defaultInvalidContactSelectors = []string{
		`//div[contains(text(), 'phone number shared via url is invalid')]`,
		`//div[contains(text(), 'Phone number shared via url is invalid')]`,
	}
)
